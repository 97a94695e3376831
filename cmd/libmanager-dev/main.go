package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"libmanager/internal/app"
	"libmanager/internal/migrations"
)

const (
	devUser     = "libmanager"
	devPassword = "devpassword"
)

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	log.Println("Starting PostgreSQL testcontainer...")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("libmanager"),
		postgres.WithUsername(devUser),
		postgres.WithPassword(devPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}
	defer terminate(ctx, "PostgreSQL", pgContainer)

	databaseURL, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}
	if err := migrate(ctx, migrations.Postgres, databaseURL); err != nil {
		return err
	}
	log.Println("PostgreSQL ready")

	log.Println("Starting ClickHouse testcontainer...")
	chContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:latest",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(devPassword),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		return fmt.Errorf("failed to start ClickHouse container: %w", err)
	}
	defer terminate(ctx, "ClickHouse", chContainer)

	host, err := chContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := chContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return fmt.Errorf("failed to get container port: %w", err)
	}
	port, err := strconv.Atoi(mapped.Port())
	if err != nil {
		return fmt.Errorf("invalid ClickHouse port %q: %w", mapped.Port(), err)
	}
	chDSN := migrations.ClickHouseDSN(host, port, "default", "default", devPassword, false)
	if err := migrate(ctx, migrations.ClickHouse, chDSN); err != nil {
		return err
	}
	log.Printf("ClickHouse started at %s:%d", host, port)

	env := map[string]string{
		"USE_MOCK_DB":         "false",
		"DATABASE_URL":        databaseURL,
		"CLICKHOUSE_ENABLED":  "true",
		"CLICKHOUSE_HOST":     host,
		"CLICKHOUSE_PORT":     mapped.Port(),
		"CLICKHOUSE_DATABASE": "default",
		"CLICKHOUSE_USER":     "default",
		"CLICKHOUSE_PASSWORD": devPassword,
		"CLICKHOUSE_USE_TLS":  "false",
		"WEBHOOK_MODE":        "false",
	}
	for k, v := range env {
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	if os.Getenv("JWT_SECRET") == "" {
		_ = os.Setenv("JWT_SECRET", "dev-secret")
	}
	if os.Getenv("LOG_LEVEL") == "" {
		_ = os.Setenv("LOG_LEVEL", "debug")
	}

	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN not set. The librarian bot stays off.")
	}
	if os.Getenv("SMTP_HOST") == "" {
		log.Println("⚠️  SMTP_HOST not set. Verification links are written to the log.")
	}

	log.Println("Starting application with PostgreSQL and ClickHouse backends...")
	application, err := app.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return application.Run(ctx)
}

func migrate(ctx context.Context, target migrations.Target, dsn string) error {
	db, err := migrations.Open(target, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Up(ctx, db, target)
}

func terminate(ctx context.Context, name string, c testcontainers.Container) {
	log.Printf("Stopping %s container...", name)
	if err := c.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate %s container: %v", name, err)
	}
}
