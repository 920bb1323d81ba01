package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/persistence"
	"ForgeLedger/migrations"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  FORGE_DB_DRIVER       - postgres or sqlite3 (default: postgres)")
		fmt.Println("  FORGE_POSTGRES_DSN    - connection string (required)")
		fmt.Println("  FORGE_MIGRATIONS_DIR  - read migrations from disk instead of the embedded set")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	driver := os.Getenv("FORGE_DB_DRIVER")
	if driver == "" {
		driver = "postgres"
	}
	dsn := os.Getenv("FORGE_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/forgeledger?sslmode=disable"
	}

	dialect, err := persistence.ParseDialect(driver)
	if err != nil {
		logger.Fatal().Err(err).Msg("dialect")
	}
	db, err := persistence.Open(dialect, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	var files fs.FS
	if dir := os.Getenv("FORGE_MIGRATIONS_DIR"); dir != "" {
		files = os.DirFS(dir)
	} else if files, err = migrations.For(dialect.Name); err != nil {
		logger.Fatal().Err(err).Msg("embedded migrations")
	}

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, dialect, files, logger)

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
