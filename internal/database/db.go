package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/config"
	"github.com/Teskh/production-sub000/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open initializes the database connection and runs auto-migration
func Open(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dialector, isSQLite, err := dialectorFor(cfg.URL)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Warn)
	if debug {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if isSQLite {
		// SQLite works best with a single writer, and an in-memory database
		// only lives as long as its one connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		log.Printf("Database connection pool configured: max_open=%d, max_idle=%d, max_lifetime=%v",
			cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
	}

	// Health check
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	return db, nil
}

func dialectorFor(databaseURL string) (gorm.Dialector, bool, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")
		if dbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
				return nil, false, fmt.Errorf("failed to create database directory: %w", err)
			}
			log.Printf("Using database at: %s", dbPath)
		}
		return sqlite.Open(dbPath), true, nil
	case strings.HasPrefix(databaseURL, "postgresql://") || strings.HasPrefix(databaseURL, "postgres://"):
		return postgres.Open(databaseURL), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported database URL format: %s", databaseURL)
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Station{},
		&models.HouseType{},
		&models.HouseSubType{},
		&models.PanelDefinition{},
		&models.Worker{},
		&models.TaskDefinition{},
		&models.TaskApplicability{},
		&models.TaskWorkerRestriction{},
		&models.WorkUnit{},
		&models.PanelUnit{},
		&models.TaskInstance{},
		&models.TaskParticipation{},
		&models.TaskPause{},
		&models.TaskException{},
		&models.QCCheckDefinition{},
		&models.QCTrigger{},
		&models.QCApplicability{},
		&models.QCFailureMode{},
		&models.QCSeverityLevel{},
		&models.QCCheckInstance{},
		&models.QCExecution{},
		&models.QCExecutionFailure{},
		&models.QCReworkTask{},
		&models.QCNotification{},
		&models.ProductionEvent{},
		&models.ScheduledJob{},
	)
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ForUpdate adds a row lock on dialects that support one. SQLite already
// serialises writers.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Get loads one row by primary key, reporting a missing row as NotFound.
func Get[T any](tx *gorm.DB, id uint, entity string) (*T, error) {
	var out T
	if err := tx.First(&out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(entity, id)
		}
		return nil, apperr.FromDB("failed to load "+entity, err)
	}
	return &out, nil
}
