package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/pantheonhq/pantheon/internal/airtable"
	"github.com/pantheonhq/pantheon/internal/api/handler"
	"github.com/pantheonhq/pantheon/internal/api/router"
	"github.com/pantheonhq/pantheon/internal/config"
	"github.com/pantheonhq/pantheon/internal/notify"
	"github.com/pantheonhq/pantheon/internal/pipeline/cache"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/pipeline/export"
	"github.com/pantheonhq/pantheon/internal/pipeline/importer"
	"github.com/pantheonhq/pantheon/internal/pipeline/runner"
	"github.com/pantheonhq/pantheon/internal/pipeline/storage"
	"github.com/pantheonhq/pantheon/internal/workspace"
	"github.com/pantheonhq/pantheon/shared/logger"
	"github.com/pantheonhq/pantheon/shared/postgresql"
	"github.com/pantheonhq/pantheon/shared/rabbitmq"
	"github.com/pantheonhq/pantheon/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize Redis client
	redisClient, err := redis.NewClient(&redis.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	appLogger.Info("Redis connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Upstream clients
	airtableClient := airtable.NewClient(&airtable.Config{
		APIToken:          cfg.Airtable.APIKey,
		BaseURL:           cfg.Airtable.BaseURL,
		RequestTimeout:    cfg.Airtable.Timeout,
		RequestsPerSecond: cfg.Airtable.RequestsPerSecond,
	}, appLogger.Logger)

	workspaceClient, err := workspace.NewClient(&workspace.Config{
		ClientEmail:   cfg.Workspace.ClientEmail,
		PrivateKeyID:  cfg.Workspace.PrivateKeyID,
		PrivateKeyPEM: []byte(cfg.Workspace.PrivateKeyPEM),
		TokenURI:      cfg.Workspace.TokenURI,
		DirectoryURL:  cfg.Workspace.DirectoryURL,
		Timeout:       cfg.Workspace.Timeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize workspace client: %w", err)
	}

	// Pipeline components
	store := storage.NewStore(dbClient, appLogger.Logger)
	recordCache := cache.NewStore(redisClient, appLogger.Logger)

	jobRunner := runner.New(&runner.Config{
		Logger:     appLogger.Logger,
		Store:      store,
		RunTimeout: cfg.Jobs.RunTimeout,
	})

	viewImporter := importer.NewImporter(airtableClient, recordCache, appLogger.Logger)

	reconciler := export.NewReconciler(export.Config{
		Store:         store,
		Directory:     workspaceClient,
		Notifier:      notify.NewAMQPSender(rabbitClient, appLogger.Logger),
		Logger:        appLogger.Logger,
		AdminEmail:    cfg.Workspace.AdminEmail,
		EmailDomain:   cfg.Export.EmailDomain,
		ThrottleEvery: cfg.Export.ThrottleEvery,
		ThrottlePause: cfg.Export.ThrottlePause,
	})

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:      appLogger.Logger,
		Storage:     store,
		Cache:       recordCache,
		Runner:      jobRunner,
		Importer:    viewImporter,
		Exporter:    reconciler,
		Catalog:     airtableClient,
		Directory:   workspaceClient,
		AdminEmail:  cfg.Workspace.AdminEmail,
		HealthCheck: func(ctx context.Context) error {
			if err := dbClient.HealthCheck(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		},
		SystemActor: domain.CreateUser{Email: "system@" + cfg.Export.EmailDomain},
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout. In-flight pipeline runs are
	// detached and finalize their jobs on their own.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
