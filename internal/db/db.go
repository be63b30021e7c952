package db

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"patchwatch/internal/config"
)

// DB is the shared GORM handle
var DB *gorm.DB

// Init opens the PostgreSQL connection pool, retrying until the
// database answers or retries are exhausted. The caller exits non-zero
// on error.
func Init(cfg *config.DatabaseConfig, log *logrus.Entry) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err == nil {
			sqlDB, serr := gdb.DB()
			if serr != nil {
				return fmt.Errorf("failed to get sql.DB: %w", serr)
			}
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
			sqlDB.SetConnMaxLifetime(time.Hour)

			DB = gdb
			log.Info("Database connected")
			return nil
		}

		lastErr = err
		log.WithError(err).Warnf("Database connect attempt %d/%d failed", attempt, cfg.ConnectRetries)
		if attempt < cfg.ConnectRetries {
			time.Sleep(time.Duration(cfg.RetryIntervalMs) * time.Millisecond)
		}
	}
	return fmt.Errorf("database unreachable after %d attempts: %w", cfg.ConnectRetries, lastErr)
}

// Close closes the underlying connection pool
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
