// Command migrate applies, inspects and rolls back the SignBridge schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"signbridge/internal/bootstrap"
	"signbridge/internal/config"
	"signbridge/internal/database"
	"signbridge/internal/middleware"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

type command struct {
	usage string
	run   func(ctx context.Context, db *gorm.DB, cfg *config.Config, args []string) error
}

var commands = map[string]command{
	"up":     {usage: "up", run: migrateUp},
	"auto":   {usage: "auto", run: migrateAuto},
	"status": {usage: "status", run: migrateStatus},
	"down":   {usage: "down <version>", run: migrateDown},
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	name := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	cmd, ok := commands[name]
	if !ok {
		printUsage()
		os.Exit(2)
	}

	if err := run(cmd, flag.Args()[1:]); err != nil {
		middleware.Logger.Error("migrate failed", slog.String("command", name), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: migrate <command>")
	for _, name := range []string{"up", "auto", "status", "down"} {
		fmt.Fprintf(os.Stderr, "  migrate %s\n", commands[name].usage)
	}
}

func run(cmd command, args []string) error {
	_ = godotenv.Load(".env")
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	db, _, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{SkipSchema: true})
	if err != nil {
		return err
	}
	return cmd.run(ctx, db, cfg, args)
}

func migrateUp(ctx context.Context, db *gorm.DB, _ *config.Config, _ []string) error {
	if err := database.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("sql migrations: %w", err)
	}
	middleware.Logger.Info("sql migrations applied")
	return nil
}

func migrateAuto(ctx context.Context, db *gorm.DB, cfg *config.Config, _ []string) error {
	cfg.DBSchemaMode = database.SchemaModeAuto
	if err := database.ApplySchema(ctx, db, cfg); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	middleware.Logger.Info("auto-migrate applied", slog.String("env", cfg.Env))
	return nil
}

func migrateStatus(ctx context.Context, db *gorm.DB, cfg *config.Config, _ []string) error {
	status, err := database.GetSchemaStatus(ctx, db, cfg)
	if err != nil {
		return fmt.Errorf("schema status: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "mode\t%s\n", status.Mode)
	fmt.Fprintf(w, "env\t%s\n", status.Environment)
	fmt.Fprintf(w, "sql migrations\t%t\n", status.WillRunSQL)
	fmt.Fprintf(w, "auto-migrate\t%t\n", status.WillRunAutoMigrate)
	fmt.Fprintf(w, "applied\t%d\n", len(status.AppliedVersions))
	for _, m := range status.PendingMigrations {
		fmt.Fprintf(w, "pending\t%s\n", m.String())
	}
	return w.Flush()
}

func migrateDown(ctx context.Context, db *gorm.DB, _ *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: migrate down <version>")
	}
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	if err := database.RollbackMigration(ctx, db, version); err != nil {
		return fmt.Errorf("rollback %d: %w", version, err)
	}
	middleware.Logger.Info("migration rolled back", slog.Int("version", version))
	return nil
}
