package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garyjia/access-approval/internal/application/engine"
	"github.com/garyjia/access-approval/internal/application/port"
	approuter "github.com/garyjia/access-approval/internal/application/router"
	"github.com/garyjia/access-approval/internal/approver"
	"github.com/garyjia/access-approval/internal/config"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"github.com/garyjia/access-approval/internal/infrastructure/external/jirax"
	"github.com/garyjia/access-approval/internal/infrastructure/external/slackbot"
	"github.com/garyjia/access-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/access-approval/internal/policy"
	"github.com/garyjia/access-approval/internal/reminder"
	"github.com/garyjia/access-approval/internal/webhook"
	"github.com/garyjia/access-approval/pkg/database"
	"github.com/garyjia/access-approval/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env for local development; absent file is fine
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting access approval workflow service",
		zap.Int("port", cfg.Server.Port))

	// Database and migrations
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Correlation store
	instanceRepo := repository.NewInstanceRepository(db.DB, logger)
	store := repository.NewStore(instanceRepo, logger)

	// Approval ledger with the configured quorum
	var quorum approval.Quorum
	switch cfg.Approval.Quorum {
	case "any_n":
		quorum = approval.AnyN(cfg.Approval.QuorumN)
	default:
		quorum = approval.Unanimous
	}
	ledger := approval.NewLedger(quorum, logger)

	// Approver hierarchy
	resolver, err := approver.Load(cfg.Approval.HierarchyPath, logger)
	if err != nil {
		logger.Fatal("Failed to load approval hierarchy", zap.Error(err))
	}

	// External transports
	ticketer, err := jirax.NewClient(jirax.Config{
		BaseURL:    cfg.Jira.BaseURL,
		Email:      cfg.Jira.Email,
		APIToken:   cfg.Jira.APIToken,
		ProjectKey: cfg.Jira.ProjectKey,
		IssueType:  cfg.Jira.IssueType,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Jira client", zap.Error(err))
	}

	slackAPI := slack.New(cfg.Slack.BotToken, slack.OptionAppLevelToken(cfg.Slack.AppToken))
	messenger := slackbot.NewMessenger(slackAPI, logger)

	// Orchestration
	dispatcher := engine.NewDispatcher(ticketer, messenger, resolver, ledger,
		approval.ContainsApproved,
		engine.DispatcherConfig{
			MaxAttempts:    cfg.Approval.MaxAttempts,
			InitialBackoff: cfg.Approval.InitialBackoff,
			MaxBackoff:     cfg.Approval.MaxBackoff,
			TicketBaseURL:  cfg.Jira.BaseURL,
		}, logger)

	var chooser port.Policy
	if cfg.OpenAI.APIKey != "" {
		chooser = policy.NewLLM(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Temperature, logger)
		logger.Info("Using LLM action policy", zap.String("model", cfg.OpenAI.Model))
	} else {
		chooser = policy.NewRules()
		logger.Info("Using rules action policy")
	}

	eng := engine.NewEngine(store, dispatcher, ledger, chooser, 0, logger)
	eventRouter := approuter.New(store, eng, ledger, ticketer, resolver,
		approval.ContainsApproved, logger)

	// Webhook endpoint
	webhookVerifier := webhook.NewVerifier(cfg.Jira.WebhookSecret)
	webhookHandler := webhook.NewHandler(webhookVerifier, eventRouter, logger)

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "access-approval",
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := db.DB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.POST(cfg.Jira.WebhookPath, webhookHandler.Handle)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Slack socket-mode listener
	listener := slackbot.NewListener(slackAPI, eventRouter, logger)
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("Slack listener terminated", zap.Error(err))
		}
	}()

	// Staleness reminders
	if cfg.Reminder.Enabled {
		scanner := reminder.NewScanner(store, ticketer, messenger, ledger,
			reminder.Config{
				Interval:   cfg.Reminder.Interval,
				StaleAfter: cfg.Reminder.StaleAfter,
			}, logger)
		go scanner.Run(ctx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
