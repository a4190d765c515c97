package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leyline/core/internal/database/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DriverSQLite is the embedded default driver
	DriverSQLite = "sqlite"
	// DriverMySQL selects gorm's MySQL driver
	DriverMySQL = "mysql"
)

// Initialize creates and returns a SQLite database connection
func Initialize(dbPath string) (*gorm.DB, error) {
	return Open(DriverSQLite, dbPath)
}

// Open opens a database with the given driver and DSN and runs migrations
func Open(driver, dsn string) (*gorm.DB, error) {
	// Configure GORM logger
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// Payload and attachment rows are written independently of the email row
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite, "":
		// Ensure the directory exists
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn + "?_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	if db.Dialector.Name() == DriverSQLite {
		// SQLite serializes writers anyway; one connection avoids "database is locked"
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return db, nil
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Email{},
		&models.Payload{},
		&models.Attachment{},
		&models.ActionLog{},
		&models.Profile{},
		&models.Log{},
	)
}
