package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/traffic-tacos/auth-api/docs" // Swagger docs
	"github.com/traffic-tacos/auth-api/internal/auth"
	"github.com/traffic-tacos/auth-api/internal/config"
	"github.com/traffic-tacos/auth-api/internal/logging"
	"github.com/traffic-tacos/auth-api/internal/metrics"
	"github.com/traffic-tacos/auth-api/internal/middleware"
	"github.com/traffic-tacos/auth-api/internal/routes"
	"github.com/traffic-tacos/auth-api/internal/secrets"
	"github.com/traffic-tacos/auth-api/internal/store"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
)

// @title Auth API
// @version 1.0
// @description Registration, login and role-gated user lookup

// @host localhost:9000
// @BasePath /

// @securityDefinitions.apikey Token
// @in header
// @name Authorization
// @description The raw signed token returned by /auth/login, without a scheme prefix.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logging.New(cfg)

	// Initialize metrics
	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	ctx := context.Background()

	// Initialize tracing
	tracingShutdown, err := middleware.InitTracing(&cfg.Observability, logging.Version(), cfg.Server.Environment, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	if cfg.JWT.SecretFromSecrets {
		secret, err := secrets.Fetch(ctx, &cfg.AWS, "jwt_secret")
		if err != nil {
			logger.WithError(err).Fatal("Failed to fetch JWT secret")
		}
		cfg.JWT.Secret = secret
		logger.Info("JWT secret fetched from AWS Secrets Manager")
	}

	// Initialize credential store
	users, err := store.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential store")
	}
	if closer, ok := users.(io.Closer); ok {
		defer closer.Close()
	}

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)

	// Initialize middleware manager
	middlewareManager, err := middleware.NewManager(ctx, cfg, users, tokens, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize middleware manager")
	}
	defer middlewareManager.Close()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Auth API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: routes.ErrorHandler(logger),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: "GET,POST,HEAD,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Idempotency-Key",
		MaxAge:       86400,
	}))
	app.Use(otelfiber.Middleware())

	if cfg.Server.Environment != "production" {
		// accessible at /debug/pprof/
		app.Use(pprof.New())
	}

	// Setup routes
	routes.Setup(app, cfg, logger, middlewareManager, users, hasher, tokens)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Gracefully shutting down...")
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logger.WithFields(logrus.Fields{
		"port":  cfg.Server.Port,
		"store": cfg.Store.Driver,
	}).Info("Starting Auth API server")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
