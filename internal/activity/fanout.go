// Package activity delivers committed lending events to the activity log
// and to chat notifiers.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"libmanager/internal/metrics"
	"libmanager/internal/models"
	"libmanager/internal/storage"
)

const defaultTimeout = 5 * time.Second

// Notifier announces a lending event somewhere people read it
type Notifier interface {
	NotifyLending(ctx context.Context, event models.LendingEvent) error
}

// Fanout is a lending listener. The activity log is written before the
// request returns; notifiers run in the background. Delivery failures are
// logged and counted, they never reach the borrower or the returner.
type Fanout struct {
	log       storage.ActivityLog
	notifiers map[string]Notifier
	logger    *zap.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration

	pending sync.WaitGroup
}

// NewFanout creates a fanout writing to log. m may be nil.
func NewFanout(log storage.ActivityLog, logger *zap.Logger, m *metrics.Metrics) *Fanout {
	return &Fanout{
		log:       log,
		notifiers: make(map[string]Notifier),
		logger:    logger,
		metrics:   m,
		timeout:   defaultTimeout,
	}
}

// AddNotifier registers n under name, which labels its failure metrics
func (f *Fanout) AddNotifier(name string, n Notifier) {
	f.notifiers[name] = n
}

func (f *Fanout) LendingCompleted(ctx context.Context, event models.LendingEvent) {
	// The request may finish before delivery does
	ctx = context.WithoutCancel(ctx)

	logCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.log.RecordLendingEvent(logCtx, event); err != nil {
		f.fail("activity_log", event, err)
	}

	for name, n := range f.notifiers {
		f.pending.Add(1)
		go func() {
			defer f.pending.Done()
			f.notify(ctx, name, n, event)
		}()
	}
}

func (f *Fanout) notify(ctx context.Context, name string, n Notifier, event models.LendingEvent) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			f.fail(name, event, fmt.Errorf("notifier panicked: %v", r))
		}
	}()
	if err := n.NotifyLending(ctx, event); err != nil {
		f.fail(name, event, err)
	}
}

// Wait blocks until every notification started so far has finished or ctx
// is done. Call it after the HTTP server has stopped taking requests.
func (f *Fanout) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lending notifications still pending: %w", ctx.Err())
	}
}

func (f *Fanout) fail(sink string, event models.LendingEvent, err error) {
	f.metrics.RecordActivityFailure(sink)
	f.logger.Error("Failed to deliver lending event",
		zap.String("sink", sink),
		zap.String("action", string(event.Action)),
		zap.String("book_id", event.BookID.String()),
		zap.String("patron_email", event.PatronEmail),
		zap.Error(err),
	)
}
