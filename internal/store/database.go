// Package store is the persistence adapter: gorm over SQLite, one
// repository per process.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB holds the database connection.
type DB struct {
	*gorm.DB
}

// Open connects to the SQLite database at the given DSN and configures the
// connection pool. The schema is created separately by Migrate.
func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(15)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &DB{db}, nil
}

// Migrate creates or upgrades the schema.
func (db *DB) Migrate() error {
	return db.AutoMigrate(
		&Project{},
		&Forecast{},
		&Actual{},
		&Portfolio{},
		&PortfolioProject{},
		&SimulationRun{},
	)
}

// Ping reports whether the underlying connection is alive.
func (db *DB) Ping() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
