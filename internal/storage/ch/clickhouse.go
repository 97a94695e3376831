// Package ch stores the lending activity log in ClickHouse.
package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"libmanager/internal/models"
	"libmanager/internal/storage"
)

type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := storage.PingWithRetry(ctx, 5, conn.Ping); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return nil
}

// RecordLendingEvent appends one committed transition to the log
func (db *ClickHouseDB) RecordLendingEvent(ctx context.Context, event models.LendingEvent) error {
	err := db.conn.Exec(ctx,
		`INSERT INTO lending_events (occurred_at, action, book_id, title, author, patron_id, patron_email)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.OccurredAt, string(event.Action), event.BookID, event.BookTitle, event.BookAuthor,
		event.PatronID, event.PatronEmail)
	if err != nil {
		return fmt.Errorf("failed to record lending event: %w", err)
	}
	return nil
}

// GetLastEvents returns the last N events, newest first
func (db *ClickHouseDB) GetLastEvents(ctx context.Context, limit int) ([]models.LendingEvent, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT occurred_at, action, book_id, title, author, patron_id, patron_email
		 FROM lending_events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get last events: %w", err)
	}
	defer rows.Close()

	events := []models.LendingEvent{}
	for rows.Next() {
		var (
			event  models.LendingEvent
			action string
		)
		if err := rows.Scan(&event.OccurredAt, &action, &event.BookID, &event.BookTitle, &event.BookAuthor,
			&event.PatronID, &event.PatronEmail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Action = models.LendingAction(action)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get last events: %w", err)
	}
	return events, nil
}

// GetTopBooks returns top N books by borrow count within the specified time period
func (db *ClickHouseDB) GetTopBooks(ctx context.Context, limit int, startDate, endDate time.Time) ([]models.BookStat, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT title, author, count() AS borrow_count
		 FROM lending_events
		 WHERE action = ? AND occurred_at >= ? AND occurred_at <= ?
		 GROUP BY title, author
		 ORDER BY borrow_count DESC, title
		 LIMIT ?`,
		string(models.ActionBorrow), startDate, endDate, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top books: %w", err)
	}
	defer rows.Close()

	stats := []models.BookStat{}
	for rows.Next() {
		var (
			stat  models.BookStat
			count uint64
		)
		if err := rows.Scan(&stat.BookTitle, &stat.BookAuthor, &count); err != nil {
			return nil, fmt.Errorf("failed to scan book stat: %w", err)
		}
		stat.BorrowCount = int(count)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get top books: %w", err)
	}
	return stats, nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
