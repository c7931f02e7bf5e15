package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"workspacechat/internal/app"
	"workspacechat/internal/storage"
)

func main() {
	dbPath := os.Getenv("WSCHAT_DB_PATH")
	if dbPath == "" {
		dbPath = app.DefaultDBPath()
	}
	flag.StringVar(&dbPath, "db", dbPath, "path to the SQLite database file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), app.AdminUsage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(dbPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, app.ErrUnknownCommand) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(dbPath string, args []string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return app.NewAdmin(store, os.Stdout).Run(ctx, args)
}
