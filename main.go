package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashback-referral-system/app"
	"cashback-referral-system/config"
	"cashback-referral-system/handlers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.NewLogger("info").WithError(err).Fatal("❌ invalid configuration")
	}
	log := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("❌ failed to start")
	}
	defer svc.Close()

	server := fiber.New(fiber.Config{
		BodyLimit:    2 * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})
	server.Use(recover.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles",
		MaxAge:       86400,
	}))

	handlers.SetupHealthRoutes(server)
	handlers.SetupWebhookRoutes(server, svc.WebhookHandler(), cfg.Shopify.WebhookSecret)
	handlers.SetupAdminRoutes(server, svc.AdminHandler(), cfg.Server.AdminToken)

	go func() {
		if err := server.Listen(":" + cfg.Server.Port); err != nil {
			log.WithError(err).Error("server error")
		}
	}()

	log.Infof("✅ Server running on http://localhost:%s", cfg.Server.Port)
	log.Infof("✅ CORS configured for origins: %s", cfg.Server.AllowedOrigins)

	<-ctx.Done()
	log.Info("Shutting down server...")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("⚠️ shutdown did not complete cleanly")
	}
}
