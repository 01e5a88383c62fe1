// Package database provides database initialization and connection management.
// It uses GORM with SQLite for embedded database storage, with driver abstraction
// for future extensibility to support other relational databases.
package database

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/logger"
)

const (
	// DefaultDBFile is the database file name inside the data directory
	DefaultDBFile = "arv.db"
)

var (
	db   *gorm.DB
	once sync.Once
)

// Init initializes the database inside the given data directory and performs
// auto-migration. Safe to call multiple times; only the first call takes effect.
func Init(dataDir string) error {
	return InitWithPath(filepath.Join(dataDir, DefaultDBFile))
}

// InitWithPath initializes the database with an explicit file path.
// This function is primarily for testing purposes.
func InitWithPath(dbPath string) error {
	var initErr error
	once.Do(func() {
		initErr = initDB(dbPath)
	})
	return initErr
}

// initDB creates the database connection and runs migrations
func initDB(dbPath string) error {
	logger.Info("Initializing database", zap.String("path", dbPath))

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("Failed to create database directory", zap.Error(err), zap.String("dir", dir))
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to create database directory", err)
	}

	// Create SQLite driver (currently only SQLite is supported)
	driver := &SQLiteDriver{}

	// Configure GORM logger
	gormLog := gormlogger.Default.LogMode(gormlogger.Silent)

	// Open database connection using driver
	dialector, err := driver.Open(dbPath)
	if err != nil {
		logger.Error("Failed to open database", zap.Error(err))
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to open database", err)
	}

	db, err = gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to connect to database", err)
	}

	// Apply pre-migration configurations: connection pool, WAL mode, etc. (foreign keys disabled)
	if err := driver.PreMigrationConfig(db); err != nil {
		logger.Error("Failed to apply pre-migration config", zap.Error(err))
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to apply pre-migration config", err)
	}

	// Run auto-migration (foreign keys disabled to avoid orphan record failures)
	if err := migrate(); err != nil {
		return err
	}

	// Apply post-migration configurations: enable foreign key constraints
	if err := driver.PostMigrationConfig(db); err != nil {
		logger.Error("Failed to apply post-migration config", zap.Error(err))
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to apply post-migration config", err)
	}

	logger.Info("Database initialized successfully", zap.String("driver", driver.Name()))
	return nil
}

// migrate runs auto-migration for all models and seeds built-in data
func migrate() error {
	logger.Info("Running database migrations")

	models := model.AllModels()
	if err := db.AutoMigrate(models...); err != nil {
		logger.Error("Failed to run database migrations", zap.Error(err))
		return errors.Wrap(errors.ErrCodeDBMigration, "failed to run database migrations", err)
	}

	logger.Info("Database migrations completed", zap.Int("models", len(models)))

	if err := seedDefaultPresets(db); err != nil {
		logger.Warn("Failed to seed default presets", zap.Error(err))
		// Non-fatal, continue with startup
	}

	return nil
}

// defaultPresets are created on first boot so a fresh install can start a
// session without configuring anything.
var defaultPresets = []model.Preset{
	{
		Name:       "claude-default",
		Model:      "claude-sonnet",
		ClientKind: "claude",
		Strictness: "balanced",
		Color:      "#8B5CF6",
		Enabled:    true,
	},
	{
		Name:       "codex-default",
		Model:      "gpt-5-codex",
		ClientKind: "codex",
		Strictness: "balanced",
		Color:      "#22C55E",
		Enabled:    true,
	},
	{
		Name:       "gemini-default",
		Model:      "gemini-pro",
		ClientKind: "gemini",
		Strictness: "balanced",
		Color:      "#3B82F6",
		Enabled:    true,
	},
}

// seedDefaultPresets inserts the built-in presets when the table is empty
func seedDefaultPresets(db *gorm.DB) error {
	var count int64
	if err := db.Model(&model.Preset{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for i := range defaultPresets {
		preset := defaultPresets[i]
		if err := db.Create(&preset).Error; err != nil {
			return err
		}
	}

	logger.Info("Seeded default presets", zap.Int("count", len(defaultPresets)))
	return nil
}

// Get returns the database instance.
// Panics if the database hasn't been initialized.
func Get() *gorm.DB {
	if db == nil {
		panic("database not initialized, call Init first")
	}
	return db
}

// Close closes the database connection
func Close() error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	logger.Info("Closing database connection")
	return sqlDB.Close()
}

// ResetForTesting resets the database state for testing purposes.
// This allows re-initialization of the database in tests.
// WARNING: Only use this function in tests!
func ResetForTesting() {
	if db != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		db = nil
	}
	once = sync.Once{}
}

// Transaction executes a function within a database transaction
func Transaction(fn func(tx *gorm.DB) error) error {
	return Get().Transaction(fn)
}

// HealthCheck performs a simple health check on the database
func HealthCheck() error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to get database connection", err)
	}
	return sqlDB.Ping()
}
