package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pharmagest/license-server/internal/auth"
	"github.com/pharmagest/license-server/internal/config"
	"github.com/pharmagest/license-server/internal/database"
	"github.com/pharmagest/license-server/internal/handlers"
	"github.com/pharmagest/license-server/internal/middleware"
	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/services"
	"github.com/pharmagest/license-server/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	if cfg.AdminPasswordHash == "" {
		log.Fatal("ADMIN_PASSWORD_HASH must be set (bcrypt digest of the admin password)")
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer database.Close(db, rdb)

	// Run migrations
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Wire components
	licenseStore := store.New(db)
	gate := auth.NewGate(cfg.AdminPasswordHash, cfg.AdminTOTPSecret, cfg.JWTSecret,
		time.Duration(cfg.SessionExpireHours)*time.Hour)
	validationService := services.NewValidationService(licenseStore)
	lifecycleService := services.NewLifecycleService(licenseStore)
	auditService := services.NewAuditService(licenseStore)

	// Start presence sweeper (marks clients offline after the stale window)
	sweeper := services.NewPresenceSweeperService(licenseStore, cfg.PresenceStaleMinutes)
	sweeper.Start()
	defer sweeper.Stop()

	// Start backup scheduler if enabled
	if cfg.BackupEnabled {
		backupService := services.NewBackupSchedulerService(cfg)
		go backupService.Start()
		defer backupService.Stop()
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "PharmaGest License Server v1.0",
		ServerHeader: "PharmaGest",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Initialize handlers
	licenseHandler := handlers.NewLicenseHandler(validationService, licenseStore)
	adminHandler := handlers.NewAdminHandler(lifecycleService, auditService, licenseStore, gate, rdb)

	// Health check
	app.Get("/health", licenseHandler.Health)

	// Client-facing routes
	api := app.Group("/api/v1")
	api.Post("/validate", licenseHandler.Validate)
	api.Post("/register", licenseHandler.Register)

	// Admin routes
	api.Post("/admin/login", adminHandler.Login)

	admin := api.Group("/admin", middleware.AdminRequired(gate, rdb))
	admin.Post("/logout", adminHandler.Logout)
	admin.Post("/licenses", adminHandler.CreateLicense)
	admin.Get("/licenses", adminHandler.ListLicenses)
	admin.Post("/licenses/block", adminHandler.BlockLicense)
	admin.Post("/licenses/unblock", adminHandler.UnblockLicense)
	admin.Post("/licenses/renew", adminHandler.RenewLicense)
	admin.Get("/licenses/:id/history", adminHandler.LicenseHistory)
	admin.Get("/active-clients", adminHandler.ActiveClients)
	admin.Post("/force-logout", adminHandler.ForceLogout)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down...")
		app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("License server listening on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
