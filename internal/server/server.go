// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"time"

	_ "signbridge/docs" // swagger docs
	"signbridge/internal/bootstrap"
	"signbridge/internal/cache"
	"signbridge/internal/config"
	"signbridge/internal/featureflags"
	"signbridge/internal/jobs"
	"signbridge/internal/middleware"
	"signbridge/internal/models"
	"signbridge/internal/realtime"
	"signbridge/internal/repository"
	"signbridge/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	auth         *middleware.Authenticator
	featureFlags *featureflags.Manager
	cache        *cache.Store

	presence *realtime.Presence
	hub      *realtime.Hub
	broker   *realtime.Broker
	sweeper  *jobs.TypingSweeper

	authService        *service.AuthService
	chatService        *service.ChatService
	typingService      *service.TypingService
	profileService     *service.ProfileService
	preferencesService *service.PreferencesService
}

// NewServer connects to the database and Redis and builds a Server on them.
func NewServer(cfg *config.Config) (*Server, error) {
	// rdb is nil when Redis is unreachable; the server then runs single-node
	db, rdb, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{SeedDemo: cfg.SeedDemo})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	typingRepo := repository.NewTypingRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	preferencesRepo := repository.NewPreferencesRepository(db)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("signbridge-api"),
		auth:           middleware.NewAuthenticator(cfg, redisClient),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		cache:          cache.NewStore(redisClient),
	}

	s.presence = realtime.NewPresence(redisClient, realtime.PresenceConfig{Logger: middleware.Logger})
	s.hub = realtime.NewHub(s.presence, realtime.Options{
		Logger:       middleware.Logger,
		InboundRPS:   cfg.WSInboundRPS,
		InboundBurst: cfg.WSInboundBurst,
	})
	s.broker = realtime.NewBroker(redisClient, s.hub, middleware.Logger)

	s.authService = service.NewAuthService(userRepo, s.auth)
	s.chatService = service.NewChatService(chatRepo, messageRepo, userRepo, s.featureFlags, s.cache, s.broker)
	s.typingService = service.NewTypingService(typingRepo, chatRepo, s.broker)
	s.profileService = service.NewProfileService(profileRepo, s.cache, s.featureFlags, cfg)
	s.preferencesService = service.NewPreferencesService(preferencesRepo, s.cache)

	sweeper, err := jobs.NewTypingSweeper(s.typingService, cfg.TypingSweepCron, cfg.TypingStaleAfter, middleware.Logger)
	if err != nil {
		return nil, err
	}
	s.sweeper = sweeper

	return s, nil
}

// App returns the Fiber app with middleware and routes installed, building
// it on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	maxUploadMB := s.config.AvatarMaxUploadSizeMB
	if maxUploadMB <= 0 {
		maxUploadMB = service.DefaultAvatarMaxUploadSizeMB
	}

	app := fiber.New(fiber.Config{
		AppName: "SignBridge API",
		// multipart framing on top of the largest accepted avatar
		BodyLimit: (maxUploadMB + 1) * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// propagates request id and user id into the request context for logging
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(middleware.TracingMiddleware())
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS must run before anything that can short-circuit so error
	// responses still carry the headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// 300 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
				"code":  "RATE_LIMITED",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	app.Static(s.profileService.PublicBaseURL(), s.profileService.UploadDir(), fiber.Static{
		MaxAge: 86400,
	})

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	requireAuth := s.auth.Required()

	auth := api.Group("/auth")
	auth.Post("/signup", middleware.RateLimit(
		s.redis, 5, 10*time.Minute, "signup"), s.Signup)
	auth.Post("/login", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/logout", requireAuth, s.Logout)
	auth.Get("/me", requireAuth, s.Me)

	// Realtime: a bearer token buys a single-use ticket, the ticket opens the socket.
	api.Post("/ws/ticket", requireAuth, s.IssueWSTicket)
	api.Get("/ws", s.RequireUpgrade, s.auth.TicketRequired(), s.RealtimeHandler())

	protected := api.Group("", requireAuth)
	protected.Get("/features", s.GetFeatureFlags)

	conversations := protected.Group("/conversations")
	conversations.Get("/", s.ListConversations)
	conversations.Post("/", middleware.RateLimit(
		s.redis, 30, time.Minute, "create_conversation"), s.CreateConversation)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	conversations.Get("/:id/messages", s.ListMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(
		s.redis, 60, time.Minute, "send_message"), s.SendMessage)
	conversations.Get("/:id/participants", s.ListParticipants)
	conversations.Post("/:id/participants", s.AddParticipant)
	conversations.Get("/:id/typing", s.ListTyping)
	conversations.Put("/:id/typing", s.StartTyping)
	conversations.Delete("/:id/typing", s.StopTyping)
	conversations.Post("/:id/read", s.MarkRead)
	conversations.Get("/:id", s.GetConversation)

	messages := protected.Group("/messages")
	messages.Patch("/:id", s.EditMessage)
	messages.Delete("/:id", s.DeleteMessage)
	messages.Post("/:id/pin", s.PinMessage)
	messages.Post("/:id/reactions", s.ToggleReaction)

	protected.Get("/preferences", s.GetPreferences)
	protected.Put("/preferences", s.UpdatePreferences)

	profiles := protected.Group("/profiles")
	profiles.Get("/", s.ListProfiles)
	profiles.Get("/me", s.GetMyProfile)
	profiles.Put("/me", s.UpdateMyProfile)
	profiles.Post("/me/avatar", middleware.RateLimit(
		s.redis, 10, 10*time.Minute, "avatar_upload"), s.UploadAvatar)
	profiles.Get("/:id", s.GetProfile)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Without a configured Redis
// the node runs single-instance and is still ready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// StartBackground starts the realtime fan-out subscriber and the typing
// sweeper. Both stop when ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) error {
	if err := s.broker.Start(ctx); err != nil {
		return err
	}
	s.sweeper.Start(ctx)
	return nil
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	if err := s.StartBackground(s.shutdownCtx); err != nil {
		// local delivery still works; only cross-node fan-out is lost
		middleware.Logger.Error("realtime fan-out unavailable", "error", err)
	}

	middleware.Logger.Info("server starting", "port", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// sockets first: fasthttp waits for hijacked connections to finish
	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down realtime hub", "error", err)
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", "error", err)
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", "error", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", "error", rerr)
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
