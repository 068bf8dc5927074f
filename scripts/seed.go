// Seed creates the initial admin account. Run once after first deploy:
//
//	ADMIN_EMAIL=admin@example.com ADMIN_PASSWORD=... go run ./scripts
package main

import (
	"log/slog"
	"os"

	"github.com/hugh/go-ident/internal/auth"
	"github.com/hugh/go-ident/internal/database"
	"github.com/hugh/go-ident/internal/database/models"
	"github.com/hugh/go-ident/pkg/config"
	"github.com/hugh/go-ident/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env, "seed")

	email := auth.NormalizeEmail(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		logger.Error("ADMIN_EMAIL and ADMIN_PASSWORD are required")
		os.Exit(1)
	}

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		logger.Info("admin user already exists", "email", email)
		return
	}

	hash, err := auth.HashPasswordCost(password, cfg.Password.BcryptCost)
	if err != nil {
		logger.Error("failed to hash password", "error", err)
		os.Exit(1)
	}

	admin := models.User{
		Name:            "Administrator",
		Email:           email,
		PasswordHash:    hash,
		Role:            models.RoleAdmin,
		IsActive:        true,
		IsEmailVerified: true,
	}

	if err := db.Create(&admin).Error; err != nil {
		logger.Error("failed to create admin user", "error", err)
		os.Exit(1)
	}

	logger.Info("admin user created", "email", email, "id", admin.ID)
}
