package service

import (
	"context"
	"testing"

	"signbridge/internal/middleware"
	"signbridge/internal/models"
	"signbridge/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_SignupProvisionsAccount(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	res, err := f.auth.Signup(ctx, "  Dana@Example.com ", "Correct-Horse-9")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "dana@example.com", res.User.Email)
	require.NotNil(t, res.User.Profile)
	assert.Equal(t, "dana", res.User.Profile.DisplayName)

	prefs, err := repository.NewPreferencesRepository(f.db).Get(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModeNormal, prefs.Mode)
	assert.Equal(t, "ASL", prefs.SignLanguage)

	_, err = f.auth.Signup(ctx, "dana@example.com", "Correct-Horse-9")
	assert.Equal(t, 409, models.HTTPStatus(err))
}

func TestAuthService_SignupValidation(t *testing.T) {
	f := newFixture(t, "")
	cases := map[string]struct{ email, password string }{
		"bad email":      {"not-an-email", "Correct-Horse-9"},
		"short password": {"a@example.com", "Sh0rt!"},
		"no special":     {"a@example.com", "CorrectHorse99"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.auth.Signup(context.Background(), tc.email, tc.password)
			assert.Equal(t, 400, models.HTTPStatus(err))
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	user := f.signup(t, "erin")

	res, err := f.auth.Login(ctx, "ERIN@example.com", "Correct-Horse-9")
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)

	_, wrongPassword := f.auth.Login(ctx, "erin@example.com", "Wrong-Horse-9")
	_, unknown := f.auth.Login(ctx, "nobody@example.com", "Correct-Horse-9")
	assert.Equal(t, 401, models.HTTPStatus(wrongPassword))
	assert.Equal(t, wrongPassword.Error(), unknown.Error())
}

func TestAuthService_Logout(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.signup(t, "finn")

	res, err := f.auth.Login(ctx, "finn@example.com", "Correct-Horse-9")
	require.NoError(t, err)
	claims, err := f.auth.auth.ParseToken(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, claims))
	_, err = f.auth.auth.ParseToken(ctx, res.Token)
	assert.ErrorIs(t, err, middleware.ErrRevokedToken)

	me, err := f.auth.Me(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "finn@example.com", me.Email)
}
