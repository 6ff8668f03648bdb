// Command server is the entry point for the SignBridge backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signbridge/internal/config"
	"signbridge/internal/middleware"
	"signbridge/internal/observability"
	"signbridge/internal/server"

	"github.com/joho/godotenv"
)

// @title SignBridge API
// @version 1.0
// @description Messaging API for deaf and hearing users: conversations, messages, reactions, typing and presence.

// @contact.name API Support
// @contact.email support@signbridge.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8375
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// a local .env is optional
	_ = godotenv.Load(".env")

	cfg, err := config.LoadConfig()
	if err != nil {
		middleware.Logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "signbridge-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		middleware.Logger.Warn("Tracing disabled", "error", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		middleware.Logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		middleware.Logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			middleware.Logger.Error("Server shutdown error", "error", err)
		}
		if shutdownTracing != nil {
			_ = shutdownTracing(ctx)
		}
	}()

	if err := srv.Start(); err != nil {
		middleware.Logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
