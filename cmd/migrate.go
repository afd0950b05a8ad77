package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/behzadon/rulebook/internal/config"
	"github.com/behzadon/rulebook/internal/storage/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Create and run postgres migrations. The sqlite backend migrates its
schema automatically when it opens.`,
	}

	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), "up")
		},
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Rollback the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), "down")
		},
	}

	migrateCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createMigration(GetConfig().Migration.Dir, args[0])
		},
	}
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateCreateCmd)
}

func runMigrations(ctx context.Context, direction string) error {
	cfg := GetConfig()
	if cfg.Storage.Driver != config.StorageDriverPostgres {
		return fmt.Errorf("migrations apply to the postgres driver only, got %q", cfg.Storage.Driver)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := newZapLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer syncLogger(logger)

	db, err := postgres.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	if err := createMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := getMigrationFiles(cfg.Migration.Dir)
	if err != nil {
		return fmt.Errorf("get migration files: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	if direction == "up" {
		for _, file := range files {
			if applied[filepath.Base(file)] {
				continue
			}
			if err := runMigration(ctx, db, file, "up", logger); err != nil {
				return fmt.Errorf("run migration %s: %w", file, err)
			}
		}
		return nil
	}

	var lastMigration string
	for _, file := range files {
		if applied[filepath.Base(file)] {
			lastMigration = file
		}
	}
	if lastMigration == "" {
		logger.Info("No migrations to rollback")
		return nil
	}

	if err := runMigration(ctx, db, lastMigration, "down", logger); err != nil {
		return fmt.Errorf("rollback migration %s: %w", lastMigration, err)
	}
	return nil
}

func createMigration(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	filename := fmt.Sprintf("%s_%s.sql", timestamp, strings.ToLower(name))
	path := filepath.Join(dir, filename)

	content := "-- Up Migration\n\n-- Down Migration\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write migration file: %w", err)
	}

	fmt.Printf("Created migration: %s\n", path)
	return nil
}

func createMigrationsTable(ctx context.Context, db *sqlx.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`
	_, err := db.ExecContext(ctx, query)
	return err
}

func getMigrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func getAppliedMigrations(ctx context.Context, db *sqlx.DB) (map[string]bool, error) {
	var names []string
	if err := db.SelectContext(ctx, &names, `SELECT name FROM migrations ORDER BY applied_at`); err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}

func rollbackTx(tx *sqlx.Tx, logger *zap.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func splitMigration(content string) (up, down string, err error) {
	parts := strings.Split(content, "-- Down Migration")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid migration file format")
	}
	up = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[0]), "-- Up Migration"))
	down = strings.TrimSpace(parts[1])
	return up, down, nil
}

func runMigration(ctx context.Context, db *sqlx.DB, filename string, direction string, logger *zap.Logger) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	upMigration, downMigration, err := splitMigration(string(content))
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(tx, logger)

	var migrationSQL string
	if direction == "up" {
		migrationSQL = upMigration
		_, err = tx.ExecContext(ctx, "INSERT INTO migrations (name) VALUES ($1)", filepath.Base(filename))
	} else {
		migrationSQL = downMigration
		_, err = tx.ExecContext(ctx, "DELETE FROM migrations WHERE name = $1", filepath.Base(filename))
	}
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	if _, err := tx.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	logger.Info("Executed migration",
		zap.String("direction", direction),
		zap.String("file", filename),
	)
	return nil
}
