package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"boardscan/pkg/common"
	"boardscan/pkg/export"
	"boardscan/pkg/pipeline"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// run serves the API, or with the "migrate" argument applies the schema and
// returns. The ledger is closed on every return path.
func run(args []string) error {
	if err := common.LoadDotEnv(".env"); err != nil {
		log.Printf("ignoring .env: %v", err)
	}
	logger := common.NewLogger(os.Stdout)
	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		return errors.New("DB_DSN is required to serve the ledger")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := context.Background()

	// `boardscan migrate` applies the schema and exits.
	if len(args) > 0 && args[0] == "migrate" {
		cfg.Database.AutoMigrate = false
		l, err := openLedger(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer l.Close()
		if err := l.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Println("migration completed")
		return nil
	}

	l, err := openLedger(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer l.Close()
	ensureUploadBase(cfg.Server.UploadBase)

	var sink pipeline.Ledger
	if cfg.Pipeline.PersistToLedger {
		sink = l
	}
	orch, err := pipeline.FromConfig(cfg, sink, logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	srv := &server{
		ledger:     l,
		pipe:       orch,
		export:     export.NewService(l, logger),
		uploadBase: cfg.Server.UploadBase,
		jwtSecret:  []byte(cfg.Server.JWTSecret),
		logger:     logger,
	}
	r := gin.Default()
	srv.setupRoutes(r)

	logger.Info("listening", "addr", cfg.Server.HTTPAddr, "ledger_mode", cfg.Pipeline.PersistToLedger)
	if err := r.Run(cfg.Server.HTTPAddr); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
