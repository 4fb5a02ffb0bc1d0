package database

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/scan-attendance-service/internal/config"
	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
)

// MemoryDSN is the shared in-memory sqlite database used by the memory backend.
const MemoryDSN = "file:attendance?mode=memory&cache=shared"

// Open connects the SQL database backing attendance facts and, for the postgres
// and sqlite backends, credential sessions. Every backend other than postgres
// keeps its SQL data in sqlite.
func Open(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:  logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gcfg)
	case config.StoreBackendMemory:
		db, err = gorm.Open(sqlite.Open(MemoryDSN), gcfg)
	default:
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.SQLitePath)), gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.StoreBackend, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.StoreBackend == config.StoreBackendPostgres {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}
	if log != nil {
		log.Info("database opened", "backend", cfg.StoreBackend)
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.CredentialSession{},
		&domain.CredentialRedemption{},
		&domain.AttendanceFact{},
		&domain.IssuerGrant{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

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

func sqliteDSN(path string) string {
	if path == "" {
		return MemoryDSN
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "warn", "error":
		return logger.Error
	default:
		return logger.Silent
	}
}
