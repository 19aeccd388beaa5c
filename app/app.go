// Package app builds the service graph shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"cashback-referral-system/config"
	"cashback-referral-system/handlers"
	"cashback-referral-system/models"
	"cashback-referral-system/services"
	"cashback-referral-system/shopify"
	"cashback-referral-system/utils"
	"cashback-referral-system/workers"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type App struct {
	Config *config.Config
	Log    *logrus.Logger
	DB     *gorm.DB

	Settings     *services.SettingsService
	Referrers    *services.ReferrerService
	Codes        *services.CodeService
	Referrals    *services.ReferralService
	Ledger       *services.RewardLedger
	Notifier     *services.NotificationService
	Purchases    *services.PurchaseService
	Settlement   *services.SettlementService
	Provisioning *services.ProvisioningService

	Archive  *utils.EventArchive     // nil when R2 is not configured
	Backfill *workers.BackfillWorker // nil when R2 is not configured
	Dedupe   utils.DeliveryDeduper

	closers []func() error
}

// New connects to every configured backend and wires the services.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := OpenDatabase(cfg.Database.URL, log)
	if err != nil {
		return nil, err
	}
	a.DB = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	var commerce services.Commerce
	if cfg.Shopify.Enabled() {
		commerce = shopify.NewClient(cfg.Shopify.ShopDomain, cfg.Shopify.APIVersion, cfg.Shopify.AccessToken, cfg.Shopify.Timeout)
	} else {
		log.Warn("⚠️ SHOPIFY_SHOP_DOMAIN/SHOPIFY_ACCESS_TOKEN not set, discount sync and refunds are disabled")
	}

	var locker services.Locker = services.NewLocalLocker()
	a.Dedupe = utils.NewMemoryDeduper(cfg.Redis.DeliveryTTL)
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("⚠️ redis unreachable, using in-process locks")
			_ = rdb.Close()
		} else {
			locker = services.NewRedisLocker(redislock.New(rdb), log)
			a.Dedupe = utils.NewRedisDeduper(rdb, cfg.Redis.DeliveryTTL)
			a.closers = append(a.closers, rdb.Close)
			log.WithField("addr", cfg.Redis.Address).Info("✅ connected to redis")
		}
	}

	var publisher services.Publisher
	if cfg.PubSub.ProjectID != "" {
		p, err := utils.NewPubSubPublisher(ctx, cfg.PubSub, log)
		if err != nil {
			log.WithError(err).Warn("⚠️ pubsub unavailable, notifications will be logged as skipped")
		} else {
			publisher = p
			a.closers = append(a.closers, p.Close)
		}
	}

	a.Settings = services.NewSettingsService(db, log)
	a.Referrers = services.NewReferrerService(db, commerce, log)
	a.Codes = services.NewCodeService(db, commerce, log)
	a.Referrals = services.NewReferralService(db, log)
	a.Ledger = services.NewRewardLedger(db, log)
	a.Notifier = services.NewNotificationService(db, publisher, log)
	a.Purchases = services.NewPurchaseService(db, services.PurchaseDeps{
		Settings:        a.Settings,
		Referrers:       a.Referrers,
		Codes:           a.Codes,
		Referrals:       a.Referrals,
		Ledger:          a.Ledger,
		Commerce:        commerce,
		Notifier:        a.Notifier,
		DefaultCurrency: cfg.Server.DefaultCurrency,
	}, log)
	a.Settlement = services.NewSettlementService(a.Settings, a.Ledger, commerce, a.Notifier, locker, log)
	a.Settlement.RequireKnownOrderTotal = cfg.Settlement.RequireKnownOrderTotal
	a.Settlement.LockTTL = cfg.Settlement.LockTTL
	a.Provisioning = services.NewProvisioningService(a.Settings, a.Referrers, a.Codes, commerce, a.Notifier, log)

	if cfg.Archive.Enabled() {
		archive, err := utils.NewR2Archive(ctx, cfg.Archive)
		if err != nil {
			log.WithError(err).Warn("⚠️ R2 archive unavailable, webhooks will not be archived")
		} else {
			a.Archive = archive
			a.Backfill = workers.NewBackfillWorker(archive, a.Purchases, log)
		}
	}

	return a, nil
}

// OpenDatabase connects to Postgres, installs tracing and migrates the schema.
func OpenDatabase(dsn string, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		log.WithError(err).Warn("⚠️ db connected but failed to install otelgorm plugin")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// WebhookHandler returns the order webhook handler with the optional archive.
func (a *App) WebhookHandler() *handlers.WebhookHandler {
	var archive handlers.EventArchiver
	if a.Archive != nil {
		archive = a.Archive
	}
	return handlers.NewWebhookHandler(a.Purchases, archive, a.Dedupe, a.Log)
}

// AdminHandler returns the operator routes handler.
func (a *App) AdminHandler() *handlers.AdminHandler {
	h := &handlers.AdminHandler{
		Settlement:   a.Settlement,
		Ledger:       a.Ledger,
		Settings:     a.Settings,
		Referrers:    a.Referrers,
		Codes:        a.Codes,
		Provisioning: a.Provisioning,
		Log:          a.Log,
	}
	if a.Backfill != nil {
		h.Backfill = a.Backfill
	}
	return h
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.WithError(err).Warn("⚠️ close failed")
		}
	}
}
