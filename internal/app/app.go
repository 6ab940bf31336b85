// Package app wires configuration, storage and services into a runnable
// API.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/adjust"
	"github.com/01moynul/storefront-ledger/internal/ai"
	"github.com/01moynul/storefront-ledger/internal/auth"
	"github.com/01moynul/storefront-ledger/internal/catalog"
	"github.com/01moynul/storefront-ledger/internal/config"
	"github.com/01moynul/storefront-ledger/internal/coupon"
	"github.com/01moynul/storefront-ledger/internal/cryptotx"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/handlers"
	"github.com/01moynul/storefront-ledger/internal/jobs"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/middleware"
	"github.com/01moynul/storefront-ledger/internal/notify"
	"github.com/01moynul/storefront-ledger/internal/orders"
	"github.com/01moynul/storefront-ledger/internal/payment"
	"github.com/01moynul/storefront-ledger/internal/routes"
	"github.com/01moynul/storefront-ledger/internal/server"
	"github.com/01moynul/storefront-ledger/internal/topups"
	"github.com/01moynul/storefront-ledger/internal/users"
	"github.com/01moynul/storefront-ledger/internal/withdrawals"
)

type App struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *sql.DB
	readDB    *sql.DB
	Handlers  *handlers.Handlers
	Router    *gin.Engine
	Users     *users.Service
	limiter   *middleware.RateLimiter
	scheduler *jobs.Scheduler
}

// Open connects the primary and read-only pools, migrates when configured
// and builds the App.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.DBDSN, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("connect primary database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, database.MySQL); err != nil {
			db.Close()
			return nil, err
		}
	}

	var readDB *sql.DB
	if cfg.AssistantEnabled() {
		readDB, err = database.Open(ctx, cfg.DBReadOnlyDSN, 5)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect read-only database: %w", err)
		}
	}

	a, err := New(ctx, cfg, log, db, readDB)
	if err != nil {
		db.Close()
		if readDB != nil {
			readDB.Close()
		}
		return nil, err
	}
	return a, nil
}

// New builds every service on top of db. readDB may be nil, which
// disables the assistant.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, db, readDB *sql.DB) (*App, error) {
	// 1. --- Shared infrastructure ---
	store := ledger.NewStore(log)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	inbox := notify.NewInbox(db)
	hub := notify.NewHub(log, inbox, telegramSender(cfg, log))

	// 2. --- Payment rails ---
	var invoices payment.InvoiceProvider
	if cfg.PlisioAPIKey != "" {
		invoices = payment.NewPlisioClient(cfg.PlisioAPIKey, cfg.PlisioBaseURL, cfg.PlisioCallbackURL, log)
	}
	gateways := payment.NewGateways(cfg.ManualGateways, invoices != nil)

	// 3. --- Domain services ---
	coupons := coupon.NewEngine(db, log)
	userSvc := users.NewService(db, tokens, log)
	orderSvc := orders.NewService(orders.Deps{
		DB:              db,
		Ledger:          store,
		Coupons:         coupons,
		Gateways:        gateways,
		Invoices:        invoices,
		Notifier:        hub,
		Log:             log,
		ReferralRateBPS: cfg.ReferralRateBPS,
	})

	h := &handlers.Handlers{
		DB:       db,
		Log:      log,
		Ledger:   store,
		Users:    userSvc,
		Catalog:  catalog.NewService(db, log),
		Coupons:  coupons,
		Gateways: gateways,
		Orders:   orderSvc,
		Crypto:   cryptotx.NewService(db, store, gateways, invoices, hub, log),
		Topups: topups.NewService(topups.Deps{
			DB:             db,
			Ledger:         store,
			Gateways:       gateways,
			Invoices:       invoices,
			Notifier:       hub,
			Log:            log,
			TopupFeeBPS:    cfg.TopupFeeBPS,
			TransferFeeBPS: cfg.TransferFeeBPS,
		}),
		Withdrawals:   withdrawals.NewService(db, store, hub, log, cfg.WithdrawalMin),
		Adjust:        adjust.NewService(db, store, log),
		Inbox:         inbox,
		PlisioSecret:  cfg.PlisioAPIKey,
		UploadDir:     cfg.UploadDir,
		PublicBaseURL: cfg.PublicBaseURL,
	}

	// 4. --- Optional assistant ---
	if readDB != nil && cfg.GeminiAPIKey != "" {
		assistant, err := ai.NewAssistant(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, readDB, db, log)
		if err != nil {
			return nil, err
		}
		h.Assistant = assistant
	}

	// 5. --- HTTP edge & jobs ---
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	router := routes.SetupRouter(h, routes.Options{
		Tokens:     tokens,
		Limiter:    limiter,
		CORSOrigin: cfg.CORSOrigin,
		Log:        log,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		db:        db,
		readDB:    readDB,
		Handlers:  h,
		Router:    router,
		Users:     userSvc,
		limiter:   limiter,
		scheduler: jobs.NewScheduler(log, orderSvc.ExpirePending, cfg.PendingOrderTTL, cfg.ExpirySweepSpec),
	}, nil
}

// telegramSender returns nil when Telegram is not configured or the bot
// cannot start; admin alerts then only go to the inbox and the log.
func telegramSender(cfg *config.Config, log *logger.Logger) notify.Sender {
	if cfg.TelegramBotToken == "" || cfg.TelegramAdminChatID == "" {
		return nil
	}
	t, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAdminChatID)
	if err != nil {
		log.Warnw("telegram alerts disabled", "error", err)
		return nil
	}
	return t
}

// Run serves HTTP and runs the background jobs until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go a.limiter.Cleanup(cleanupCtx, time.Minute)

	srv := server.New(a.Router, a.cfg.HTTPPort, a.log)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	return srv.Shutdown(context.Background())
}

// Close releases the database pools and the assistant client.
func (a *App) Close() error {
	if a.Handlers.Assistant != nil {
		if err := a.Handlers.Assistant.Close(); err != nil {
			a.log.Warnw("close assistant", "error", err)
		}
	}
	if a.readDB != nil {
		a.readDB.Close()
	}
	return a.db.Close()
}
