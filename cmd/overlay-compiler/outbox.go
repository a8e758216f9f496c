package main

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/overlay/internal/config"
	"github.com/MarcoPoloResearchLab/overlay/internal/database"
	"github.com/MarcoPoloResearchLab/overlay/internal/outbox"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// openOutboxStore connects to Postgres when a URL is configured and to the
// SQLite outbox otherwise. The returned func closes the connection pool.
func openOutboxStore(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	var (
		db  *gorm.DB
		err error
	)
	if appConfig.UsesPostgres() {
		db, err = database.OpenPostgres(appConfig.DatabaseURL, logger)
	} else {
		db, err = database.OpenSQLite(appConfig.DatabasePath, logger)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

// startListener turns Postgres notifications into wake signals on a
// dedicated connection. SQLite has no notifications, so the tailer polls.
func startListener(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (<-chan struct{}, error) {
	wake := make(chan struct{}, 1)
	if !appConfig.UsesPostgres() {
		return wake, nil
	}

	conn, err := pgx.Connect(ctx, appConfig.DatabaseURL)
	if err != nil {
		return nil, err
	}
	listener, err := outbox.NewListener(conn, logger)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	go func() {
		defer conn.Close(context.Background()) //nolint:errcheck
		if err := listener.Run(ctx, wake); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox listener stopped; falling back to polling", zap.Error(err))
		}
	}()
	return wake, nil
}

func newTailer(db *gorm.DB, appConfig config.AppConfig, logger *zap.Logger) (*outbox.Tailer, error) {
	return outbox.NewTailer(outbox.TailerConfig{
		Database:     db,
		PollInterval: appConfig.PollInterval,
		BatchSize:    appConfig.BatchSize,
		Logger:       logger,
	})
}
