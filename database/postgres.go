package database

import (
	"context"
	"fmt"
	"time"

	"github.com/yashrajoria/pix-payment-service/repository"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const postgresAttempts = 10

// ConnectPostgres opens and pings the database, backing off linearly
// between attempts until ctx is done, then migrates the order and sale
// tables.
func ConnectPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= postgresAttempts; attempt++ {
		db, err := openPostgres(ctx, dsn)
		if err == nil {
			logger.Info("Connected to PostgreSQL", zap.Int("attempt", attempt))
			if err := repository.AutoMigrate(db.WithContext(ctx)); err != nil {
				return nil, fmt.Errorf("migrate orders and sales: %w", err)
			}
			return db, nil
		}
		lastErr = err
		logger.Warn("PostgreSQL not ready", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to PostgreSQL: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", postgresAttempts, lastErr)
}

func openPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	pool, err := db.DB()
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return db, nil
}

func ClosePostgres(db *gorm.DB) error {
	pool, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	return pool.Close()
}
