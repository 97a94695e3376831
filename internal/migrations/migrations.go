// Package migrations embeds the goose migrations for the primary Postgres
// store and the ClickHouse activity log.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql clickhouse/*.sql
var FS embed.FS

// Target selects which store a migration run applies to
type Target string

const (
	Postgres   Target = "postgres"
	ClickHouse Target = "clickhouse"
)

// goose keeps its dialect and base FS in package globals
var gooseMu sync.Mutex

// ParseTarget validates a target name given on the command line
func ParseTarget(name string) (Target, error) {
	switch Target(name) {
	case Postgres, ClickHouse:
		return Target(name), nil
	default:
		return "", fmt.Errorf("unknown migration target %q (want postgres or clickhouse)", name)
	}
}

// Dir is the embedded directory holding the target's migrations
func (t Target) Dir() string {
	return string(t)
}

func (t Target) driver() string {
	if t == ClickHouse {
		return "clickhouse"
	}
	return "pgx"
}

// Open opens a database/sql handle suitable for goose
func Open(target Target, dsn string) (*sql.DB, error) {
	db, err := sql.Open(target.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target, err)
	}
	return db, nil
}

// ClickHouseDSN builds a clickhouse:// DSN from discrete settings
func ClickHouseDSN(host string, port int, database, user, password string, useTLS bool) string {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?dial_timeout=10s&max_execution_time=60",
		user, password, host, port, database)
	if useTLS {
		dsn += "&secure=true"
	}
	return dsn
}

// Up applies every pending migration for target
func Up(ctx context.Context, db *sql.DB, target Target) error {
	return Run(ctx, db, target, "up")
}

// Run executes a goose command (up, down, status, version, reset, redo)
// against the embedded migrations of target.
func Run(ctx context.Context, db *sql.DB, target Target, command string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(string(target)); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, target.Dir())
	case "down":
		err = goose.DownContext(ctx, db, target.Dir())
	case "status":
		err = goose.StatusContext(ctx, db, target.Dir())
	case "version":
		err = goose.VersionContext(ctx, db, target.Dir())
	case "reset":
		err = goose.ResetContext(ctx, db, target.Dir())
	case "redo":
		err = goose.RedoContext(ctx, db, target.Dir())
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("failed to run %s migrations (%s): %w", target, command, err)
	}
	return nil
}
