package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"libmanager/internal/activity"
	"libmanager/internal/api"
	"libmanager/internal/auth"
	"libmanager/internal/bot"
	"libmanager/internal/catalog"
	"libmanager/internal/config"
	"libmanager/internal/lending"
	"libmanager/internal/mail"
	"libmanager/internal/metrics"
	"libmanager/internal/patron"
	"libmanager/internal/storage"
	"libmanager/internal/storage/ch"
	"libmanager/internal/storage/pg"
	"libmanager/internal/storage/stubs"
)

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	db       storage.Storage
	activity storage.ActivityLog
	fanout   *activity.Fanout
	bot      *bot.Bot
	server   *http.Server
}

// New loads the configuration and wires every component
func New(ctx context.Context) (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}
	logger.Info("Starting libmanager...")

	if err := app.initStores(ctx); err != nil {
		return nil, err
	}

	m := metrics.New()

	mailer, err := app.newMailer()
	if err != nil {
		return nil, err
	}

	books := catalog.NewService(app.db, cfg.CacheSize, cfg.CacheTTL, m)
	patrons := patron.NewService(app.db, patron.WithChangeHook(func(uuid.UUID) {
		books.InvalidateAll()
	}))
	authSvc := auth.NewService(app.db, mailer, auth.Config{
		Secret:          cfg.JWTSecret,
		SessionTTL:      cfg.JWTTTL,
		VerificationTTL: cfg.VerificationTTL,
		BaseURL:         cfg.PublicBaseURL,
	}, logger)

	app.fanout = activity.NewFanout(app.activity, logger, m)
	if err := app.initBot(app.fanout); err != nil {
		return nil, err
	}

	lender := lending.NewService(app.db,
		lending.WithListener(books),
		lending.WithListener(app.fanout),
	)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := api.Deps{
		Auth:        authSvc,
		Catalog:     books,
		Patrons:     patrons,
		Lending:     lender,
		Metrics:     m,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	}
	if app.bot != nil && cfg.WebhookMode {
		deps.Webhook = app.bot
	}
	router := api.NewRouter(deps)

	app.server = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return app, nil
}

func newLogger(level string) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = atomic

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// initStores connects the primary store and the activity log
func (a *App) initStores(ctx context.Context) error {
	cfg := a.config

	if cfg.UseMockDB {
		a.logger.Info("Using mock database")
		a.db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to PostgreSQL")
		db, err := pg.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.db = db
	}

	if cfg.ClickHouseEnabled {
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", cfg.ClickHouseHost),
			zap.Int("port", cfg.ClickHousePort),
			zap.String("database", cfg.ClickHouseDatabase),
			zap.String("user", cfg.ClickHouseUser),
			zap.Bool("tls", cfg.ClickHouseUseTLS),
		)
		log, err := ch.NewClickHouseDB(ctx,
			cfg.ClickHouseHost,
			cfg.ClickHousePort,
			cfg.ClickHouseDatabase,
			cfg.ClickHouseUser,
			cfg.ClickHousePassword,
			cfg.ClickHouseUseTLS,
		)
		if err != nil {
			_ = a.db.Close()
			return err
		}
		a.activity = log
	} else {
		a.logger.Info("Using in-memory activity log")
		a.activity = stubs.NewMockActivityLog()
	}

	if err := a.db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := a.activity.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize activity log: %w", err)
	}
	a.logger.Info("Database initialized successfully")
	return nil
}

func (a *App) newMailer() (mail.Sender, error) {
	cfg := a.config
	if cfg.SMTPHost == "" {
		a.logger.Warn("SMTP_HOST not set, mail is logged instead of sent")
		return mail.NewLogSender(a.logger), nil
	}

	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail sender: %w", err)
	}
	return sender, nil
}

// initBot creates the librarian bot when a token is configured and
// subscribes it to lending events
func (a *App) initBot(fanout *activity.Fanout) error {
	cfg := a.config
	if cfg.TelegramToken == "" {
		a.logger.Info("TELEGRAM_BOT_TOKEN not set, librarian bot disabled")
		return nil
	}

	b, err := bot.NewBot(bot.Options{
		Token:          cfg.TelegramToken,
		AllowedUserIDs: cfg.AllowedUserIDs,
		NotifyChatID:   cfg.NotificationChatID,
		NotifyThreadID: cfg.NotificationThreadID,
	}, a.db, a.activity, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Bot created", zap.Int64s("allowed_users", cfg.AllowedUserIDs))

	fanout.AddNotifier("telegram", b)
	a.bot = b
	return nil
}

// Run serves HTTP and runs the bot, polling or by webhook, until ctx is
// cancelled or a signal arrives, then shuts down
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if a.bot != nil && a.config.WebhookMode {
		a.logger.Info("Starting bot in webhook mode", zap.String("url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			_ = a.Shutdown()
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Bot will receive updates via " + bot.WebhookPath)
	} else if a.bot != nil {
		go func() {
			if err := a.bot.Start(ctx); err != nil {
				a.logger.Error("Bot stopped with error", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case runErr = <-errCh:
		a.logger.Error("Shutting down after server failure", zap.Error(runErr))
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	defer func() { _ = a.logger.Sync() }()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Let webhook updates and lending notifications finish before the stores close
	if a.bot != nil {
		if err := a.bot.Wait(shutdownCtx); err != nil {
			a.logger.Warn("Shutting down with webhook updates in flight", zap.Error(err))
		}
	}
	if err := a.fanout.Wait(shutdownCtx); err != nil {
		a.logger.Warn("Shutting down with lending notifications in flight", zap.Error(err))
	}

	var errs []error
	if err := a.activity.Close(); err != nil {
		a.logger.Error("Error closing activity log", zap.Error(err))
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		errs = append(errs, err)
	}

	a.logger.Info("Shutdown complete")
	return errors.Join(errs...)
}
