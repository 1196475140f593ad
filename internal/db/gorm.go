package db

import (
	"fmt"

	"collab-hub/internal/config"
	"collab-hub/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the database named by cfg.StorageBackend (postgres or
// sqlite) and migrates the snapshot table.
func NewGorm(cfg *config.Config, log *zap.Logger) (*GormDB, error) {
	var dialector gorm.Dialector
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		dialector = postgres.Open(cfg.DatabaseURL())
	case config.StorageSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("storage backend %q is not a SQL database", cfg.StorageBackend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("✓ Database connected and migrated successfully", zap.String("backend", cfg.StorageBackend))

	return &GormDB{db}, nil
}

// Migrate creates or updates the tables the hub owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Snapshot{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
