package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"boardscan/pkg/common"
	"boardscan/pkg/ledger"
)

// openLedger connects to DB_DSN and applies the schema when DB_AUTO_MIGRATE
// is set.
func openLedger(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*ledger.Ledger, error) {
	if cfg.DSN == "" {
		return nil, errors.New("DB_DSN is not set. Use a Postgres DSN or sqlite:<path>")
	}
	l, err := ledger.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, nil
}

// ensureUploadBase creates the base uploads directory.
func ensureUploadBase(base string) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		log.Printf("failed to create upload base dir %s: %v", base, err)
	}
}
