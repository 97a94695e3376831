package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"libmanager/internal/models"
)

// MockActivityLog is an in-memory implementation of the ActivityLog interface
type MockActivityLog struct {
	mu     sync.RWMutex
	events []models.LendingEvent
}

// NewMockActivityLog creates a new empty activity log
func NewMockActivityLog() *MockActivityLog {
	return &MockActivityLog{
		events: make([]models.LendingEvent, 0),
	}
}

// Initialize does nothing for the mock log
func (m *MockActivityLog) Initialize(ctx context.Context) error {
	return nil
}

// RecordLendingEvent appends an event
func (m *MockActivityLog) RecordLendingEvent(ctx context.Context, event models.LendingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	return nil
}

// GetLastEvents returns the last N events, newest first
func (m *MockActivityLog) GetLastEvents(ctx context.Context, limit int) ([]models.LendingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := make([]models.LendingEvent, len(m.events))
	copy(sorted, m.events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})

	if limit > len(sorted) {
		limit = len(sorted)
	}

	return sorted[:limit], nil
}

// GetTopBooks returns top N books by borrow count within the specified time period
func (m *MockActivityLog) GetTopBooks(ctx context.Context, limit int, startDate, endDate time.Time) ([]models.BookStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ title, author string }
	counts := make(map[key]int)

	for _, event := range m.events {
		if event.Action != models.ActionBorrow {
			continue
		}
		if event.OccurredAt.Before(startDate) || event.OccurredAt.After(endDate) {
			continue
		}
		counts[key{event.BookTitle, event.BookAuthor}]++
	}

	stats := make([]models.BookStat, 0, len(counts))
	for k, count := range counts {
		stats = append(stats, models.BookStat{
			BookTitle:   k.title,
			BookAuthor:  k.author,
			BorrowCount: count,
		})
	}

	// Sort by count descending, then by title
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].BorrowCount != stats[j].BorrowCount {
			return stats[i].BorrowCount > stats[j].BorrowCount
		}
		return stats[i].BookTitle < stats[j].BookTitle
	})

	if limit > 0 && limit < len(stats) {
		stats = stats[:limit]
	}

	return stats, nil
}

// Close does nothing for the mock log
func (m *MockActivityLog) Close() error {
	return nil
}
