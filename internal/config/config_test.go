package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:              "development",
		JWTSecret:        "secure-secret-at-least-32-chars-long",
		DBPassword:       "secure-password",
		DBSSLMode:        "require",
		Port:             "8080",
		TypingSweepCron:  "* * * * *",
		TypingStaleAfter: 30 * time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid development config", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"invalid sweep cron", func(c *Config) { c.TypingSweepCron = "every minute" }, true},
		{"empty sweep cron disables sweeper", func(c *Config) { c.TypingSweepCron = "" }, false},
		{"negative stale threshold", func(c *Config) { c.TypingStaleAfter = -time.Second }, true},
		{"negative websocket rate", func(c *Config) { c.WSInboundRPS = -1 }, true},
		{"production with default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = defaultJWTSecret
		}, true},
		{"production with short secret", func(c *Config) {
			c.Env = "prod"
			c.JWTSecret = "short"
		}, true},
		{"production with weak db password", func(c *Config) {
			c.Env = "production"
			c.DBPassword = "password"
		}, true},
		{"production with strong settings", func(c *Config) { c.Env = "production" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer viper.Reset()
	t.Setenv("APP_ENV", "test")
	t.Setenv("TYPING_STALE_AFTER", "45s")

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8375", c.Port)
	assert.Equal(t, "signbridge", c.DBName)
	assert.Equal(t, "* * * * *", c.TypingSweepCron)
	assert.Equal(t, 45*time.Second, c.TypingStaleAfter)
	assert.Equal(t, 5, c.AvatarMaxUploadSizeMB)
	assert.False(t, c.IsProduction())
}
