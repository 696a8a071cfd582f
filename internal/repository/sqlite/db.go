package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

// Open creates a SQLite connection and migrates the sessions table.
func Open(path string, logMode bool) (*gorm.DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	gormLogger := logger.Default
	if !logMode {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	// SQLite serializes writers; one connection also keeps an in-memory db alive.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
	_, _ = sqlDB.Exec("PRAGMA synchronous = NORMAL;")

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates the sessions table plus the partial index that allows a
// single open session per plate.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&sessionModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_parking_sessions_open_plate
		ON parking_sessions (plate) WHERE exit_time IS NULL`).Error
	if err != nil {
		return fmt.Errorf("create open plate index: %w", err)
	}
	return nil
}
