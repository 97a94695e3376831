package stubs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"libmanager/internal/models"
)

func newEvent(action models.LendingAction, title string, at time.Time) models.LendingEvent {
	return models.LendingEvent{
		OccurredAt:  at,
		Action:      action,
		BookID:      uuid.New(),
		BookTitle:   title,
		BookAuthor:  "Author of " + title,
		PatronID:    uuid.New(),
		PatronEmail: "pat@example.com",
	}
}

func TestMockActivityLog_GetLastEvents(t *testing.T) {
	log := NewMockActivityLog()
	ctx := context.Background()

	now := time.Now()
	_ = log.RecordLendingEvent(ctx, newEvent(models.ActionBorrow, "Dune", now.Add(-time.Hour)))
	_ = log.RecordLendingEvent(ctx, newEvent(models.ActionReturn, "Dune", now))

	events, err := log.GetLastEvents(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to get last events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	// Events should be in reverse chronological order
	if events[0].Action != models.ActionReturn {
		t.Errorf("Expected newest event first, got %s", events[0].Action)
	}

	limited, _ := log.GetLastEvents(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("Expected 1 event, got %d", len(limited))
	}
}

func TestMockActivityLog_GetTopBooks(t *testing.T) {
	log := NewMockActivityLog()
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		_ = log.RecordLendingEvent(ctx, newEvent(models.ActionBorrow, "Dune", now.Add(-time.Duration(i)*time.Hour)))
	}
	_ = log.RecordLendingEvent(ctx, newEvent(models.ActionBorrow, "Emma", now))
	// Returns and out-of-range borrows do not count
	_ = log.RecordLendingEvent(ctx, newEvent(models.ActionReturn, "Emma", now))
	_ = log.RecordLendingEvent(ctx, newEvent(models.ActionBorrow, "Emma", now.AddDate(-1, 0, 0)))

	stats, err := log.GetTopBooks(ctx, 10, now.AddDate(0, -1, 0), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to get top books: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("Expected 2 books, got %d", len(stats))
	}
	if stats[0].BookTitle != "Dune" || stats[0].BorrowCount != 3 {
		t.Errorf("Expected Dune with 3 borrows first, got %+v", stats[0])
	}
	if stats[1].BookTitle != "Emma" || stats[1].BorrowCount != 1 {
		t.Errorf("Expected Emma with 1 borrow second, got %+v", stats[1])
	}

	top, _ := log.GetTopBooks(ctx, 1, now.AddDate(0, -1, 0), now.Add(time.Minute))
	if len(top) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(top))
	}
}
