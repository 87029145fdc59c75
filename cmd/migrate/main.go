package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/campaign-dispatcher/internal/config"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/repository/postgres"
)

func main() {
	listOnly := false
	configPath := "config/config.yaml"
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			configPath = a
		}
	}

	if listOnly {
		names, err := postgres.Migrations()
		if err != nil {
			fatal("read embedded migrations", err)
		}
		for _, n := range names {
			fmt.Println(" ", n)
		}
		fmt.Printf("Total: %d migrations\n", len(names))
		return
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		fatal("load config", err)
	}
	if cfg.Database.URL == "" {
		fatal("DATABASE_URL is required", nil)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal("connect", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fatal("ping", err)
	}
	logger.Info("connected to database")

	applied, err := postgres.Migrate(ctx, db)
	if err != nil {
		fatal("migrate", err)
	}
	fmt.Printf("Done: %d applied\n", len(applied))
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
