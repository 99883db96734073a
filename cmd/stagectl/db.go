package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/storage/postgres"
	"gorm.io/gorm"

	_ "github.com/lib/pq"
)

// env bundles what every database backed command needs.
type env struct {
	cfg    *config.WorkerConfig
	db     *gorm.DB
	logger *slog.Logger
	close  func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.LoadWorkerConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		closeLog()
		return nil, err
	}
	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	return &env{
		cfg:    cfg,
		db:     db,
		logger: logger,
		close: func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
			closeLog()
		},
	}, nil
}

// openSQL opens a plain database/sql handle for goose.
func openSQL(ctx context.Context) (*sql.DB, error) {
	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
