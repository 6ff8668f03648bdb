// Package bootstrap wires the shared runtime used by the server and the
// operational commands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"signbridge/internal/cache"
	"signbridge/internal/config"
	"signbridge/internal/database"
	"signbridge/internal/middleware"
	"signbridge/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema leaves the schema untouched; cmd/migrate manages it explicitly.
	SkipSchema bool
	// SeedDemo populates an empty development database with demo data.
	SeedDemo bool
	Seed     seed.Options
}

// InitRuntime connects to the database and Redis. Redis may come back nil,
// in which case callers run single-node.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Open(ctx, cfg, database.OpenOptions{SkipSchema: opts.SkipSchema})
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	rdb := cache.GetClient()

	if opts.SeedDemo {
		if err := seedIfEmpty(ctx, cfg, db, opts.Seed); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, rdb, nil
}

func seedIfEmpty(ctx context.Context, cfg *config.Config, db *gorm.DB, opts seed.Options) error {
	if cfg.IsProduction() {
		return fmt.Errorf("refusing to seed demo data in %q", cfg.Env)
	}

	var users int64
	if err := db.WithContext(ctx).Table("users").Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		middleware.Logger.InfoContext(ctx, "Skipping demo seed, database already has users", slog.Int64("users", users))
		return nil
	}

	s, err := seed.NewSeeder(db, opts)
	if err != nil {
		return err
	}
	_, err = s.Run(ctx)
	return err
}
