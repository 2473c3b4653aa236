package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"lead-ledger/config"
	pgStorage "lead-ledger/internal/adapter/storage/postgres"
	"lead-ledger/pkg/logger"

	"github.com/jackc/pgx/v5/stdlib"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|redo|validate")
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	// Validation works on the embedded files and needs no database.
	if *cmd == "validate" {
		if err := pgStorage.ValidateMigrations(); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Pretty), "migrate")

	ctx := context.Background()
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	switch *cmd {
	case "up", "down", "status", "version", "redo":
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}

	if err := pgStorage.Migrate(ctx, db, *cmd, flag.Args()...); err != nil {
		log.Error().Err(err).Str("cmd", *cmd).Msg("migration failed")
		os.Exit(1)
	}
	log.Info().Str("cmd", *cmd).Msg("migration finished")
}
