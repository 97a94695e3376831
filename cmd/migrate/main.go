package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"libmanager/internal/migrations"
)

var gooseCommands = []struct {
	name  string
	short string
}{
	{"up", "Apply all pending migrations"},
	{"down", "Roll back the latest migration"},
	{"status", "Print the status of every migration"},
	{"version", "Print the current migration version"},
	{"reset", "Roll back every migration"},
	{"redo", "Roll back and re-apply the latest migration"},
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using existing environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the libmanager database schemas",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&target, "target", string(migrations.Postgres), "database to migrate (postgres or clickhouse)")

	for _, gc := range gooseCommands {
		command := gc.name
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: gc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				t, err := migrations.ParseTarget(target)
				if err != nil {
					return err
				}
				db, err := openTarget(t)
				if err != nil {
					return err
				}
				defer db.Close()

				cmd.Printf("Running %s migrations: %s\n", t, command)
				if err := migrations.Run(context.Background(), db, t, command); err != nil {
					return err
				}
				cmd.Println("Done")
				return nil
			},
		})
	}

	cmd.AddCommand(newCreateCmd(&target))
	return cmd
}

// newCreateCmd scaffolds a new SQL migration in the source tree
func newCreateCmd(target *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new SQL migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := migrations.ParseTarget(*target)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = filepath.Join("internal", "migrations", t.Dir())
			}
			if err := goose.Create(nil, dir, args[0], "sql"); err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}
			cmd.Printf("Created migration %s in %s\n", args[0], dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to write the migration to (default internal/migrations/<target>)")
	return cmd
}

// openTarget opens the database named by target from the environment
func openTarget(target migrations.Target) (*sql.DB, error) {
	var dsn string
	switch target {
	case migrations.ClickHouse:
		port, err := strconv.Atoi(getEnv("CLICKHOUSE_PORT", "9000"))
		if err != nil {
			return nil, fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
		}
		dsn = migrations.ClickHouseDSN(
			getEnv("CLICKHOUSE_HOST", "localhost"),
			port,
			getEnv("CLICKHOUSE_DATABASE", "default"),
			getEnv("CLICKHOUSE_USER", "default"),
			os.Getenv("CLICKHOUSE_PASSWORD"),
			os.Getenv("CLICKHOUSE_USE_TLS") == "true",
		)
	default:
		dsn = os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres target")
		}
	}

	db, err := migrations.Open(target, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", target, err)
	}
	return db, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
