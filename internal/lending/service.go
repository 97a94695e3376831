// Package lending moves books between the available and borrowed states.
//
// A book, its borrower reference and its open ledger record always change
// together inside one storage transaction. The acting identity is passed in
// explicitly by the caller; the package never reads request state and never
// logs. Successful transitions are reported to listeners after commit.
package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"libmanager/internal/apperr"
	"libmanager/internal/models"
	"libmanager/internal/storage"
)

// ErrCorruptLedger means the ledger disagrees with the book it describes,
// e.g. more than one open record for the same book.
var ErrCorruptLedger = errors.New("lending ledger is inconsistent")

const (
	msgActorNotFound   = "User not found"
	msgPatronNotFound  = "User does not exist"
	msgBookNotFound    = "Book does not exist"
	msgNotAuthorized   = "You are not authorized to do this"
	msgNotAvailable    = "This book is not available"
	msgNoRecord        = "A borrow record does not exist for this book"
	msgAlreadyReturned = "This book has been returned"
)

// Listener is told about every committed transition
type Listener interface {
	LendingCompleted(ctx context.Context, event models.LendingEvent)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, event models.LendingEvent)

func (f ListenerFunc) LendingCompleted(ctx context.Context, event models.LendingEvent) {
	f(ctx, event)
}

// Result is returned by a successful transition
type Result struct {
	Message string
	Book    models.Book
}

type Service struct {
	store     storage.Storage
	listeners []Listener
	now       func() time.Time
}

type Option func(*Service)

// WithListener registers l to run after each committed transition
func WithListener(l Listener) Option {
	return func(s *Service) {
		s.listeners = append(s.listeners, l)
	}
}

// WithClock overrides the time source used for ledger timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Borrow lends bookID to patronID. Only the patron themself may borrow, so
// actorEmail must resolve to patronID.
func (s *Service) Borrow(ctx context.Context, actorEmail string, bookID, patronID uuid.UUID) (*Result, error) {
	var (
		book  *models.Book
		actor *models.User
	)
	now := s.now()

	err := s.store.InTx(ctx, func(tx storage.LendingTx) error {
		var err error
		if actor, err = resolveActor(ctx, tx, actorEmail); err != nil {
			return err
		}
		patron, err := resolvePatron(ctx, tx, patronID)
		if err != nil {
			return err
		}
		if book, err = lockBook(ctx, tx, bookID); err != nil {
			return err
		}

		if actor.ID != patron.ID {
			return apperr.Forbidden(msgNotAuthorized)
		}
		if !book.Available {
			return apperr.Conflict(msgNotAvailable)
		}

		if err := tx.SetBorrower(ctx, book.ID, &actor.ID, now); err != nil {
			return fmt.Errorf("failed to lend book: %w", err)
		}
		lentID := book.ID
		record := &models.LendingRecord{
			BookID:     &lentID,
			BorrowerID: actor.ID,
			BorrowedAt: now,
		}
		if err := tx.CreateRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to create lending record: %w", err)
		}

		book.Available = false
		book.BorrowerID = &actor.ID
		book.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, models.ActionBorrow, now, book, actor)
	return &Result{
		Message: fmt.Sprintf("You have now borrowed '%s' by '%s'", book.Title, book.Author),
		Book:    *book,
	}, nil
}

// Return hands bookID back. The caller must be patronID and patronID must be
// the current borrower.
func (s *Service) Return(ctx context.Context, actorEmail string, bookID, patronID uuid.UUID) (*Result, error) {
	var (
		book  *models.Book
		actor *models.User
	)
	now := s.now()

	err := s.store.InTx(ctx, func(tx storage.LendingTx) error {
		var err error
		if actor, err = resolveActor(ctx, tx, actorEmail); err != nil {
			return err
		}
		patron, err := resolvePatron(ctx, tx, patronID)
		if err != nil {
			return err
		}
		if book, err = lockBook(ctx, tx, bookID); err != nil {
			return err
		}

		// The record has to be found before it is closed: closing clears
		// its book reference.
		record, err := openRecord(ctx, tx, book)
		if err != nil {
			return err
		}

		if actor.ID != patron.ID || book.BorrowerID == nil || *book.BorrowerID != patron.ID {
			return apperr.Forbidden(msgNotAuthorized)
		}

		if err := tx.SetBorrower(ctx, book.ID, nil, now); err != nil {
			return fmt.Errorf("failed to release book: %w", err)
		}
		if err := tx.CloseRecord(ctx, record.ID, now); err != nil {
			return fmt.Errorf("failed to close lending record: %w", err)
		}

		book.Available = true
		book.BorrowerID = nil
		book.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, models.ActionReturn, now, book, actor)
	return &Result{
		Message: fmt.Sprintf("You have successfully returned '%s' by '%s'", book.Title, book.Author),
		Book:    *book,
	}, nil
}

// BorrowedBy lists the books currently lent to the acting user
func (s *Service) BorrowedBy(ctx context.Context, actorEmail string) ([]models.Book, error) {
	actor, err := s.store.GetUserByEmail(ctx, actorEmail)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgActorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	books, err := s.store.ListBooksBorrowedBy(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowed books: %w", err)
	}
	return books, nil
}

func (s *Service) notify(ctx context.Context, action models.LendingAction, at time.Time, book *models.Book, actor *models.User) {
	if len(s.listeners) == 0 {
		return
	}

	event := models.LendingEvent{
		OccurredAt:  at,
		Action:      action,
		BookID:      book.ID,
		BookTitle:   book.Title,
		BookAuthor:  book.Author,
		PatronID:    actor.ID,
		PatronEmail: actor.Email,
	}
	for _, l := range s.listeners {
		l.LendingCompleted(ctx, event)
	}
}

func resolveActor(ctx context.Context, tx storage.LendingTx, email string) (*models.User, error) {
	user, err := tx.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgActorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve acting user: %w", err)
	}
	return user, nil
}

func resolvePatron(ctx context.Context, tx storage.LendingTx, id uuid.UUID) (*models.User, error) {
	user, err := tx.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgPatronNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patron: %w", err)
	}
	return user, nil
}

func lockBook(ctx context.Context, tx storage.LendingTx, id uuid.UUID) (*models.Book, error) {
	book, err := tx.GetBookForUpdate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgBookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// openRecord returns the single open record for book
func openRecord(ctx context.Context, tx storage.LendingTx, book *models.Book) (*models.LendingRecord, error) {
	records, err := tx.FindRecordsForBook(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find lending record: %w", err)
	}
	if len(records) == 0 {
		return nil, apperr.Conflict(msgNoRecord)
	}

	var open []models.LendingRecord
	for _, r := range records {
		if r.Open() {
			open = append(open, r)
		}
	}

	switch {
	case len(open) == 0:
		return nil, apperr.Conflict(msgAlreadyReturned)
	case len(open) > 1:
		return nil, fmt.Errorf("%w: book %s has %d open records", ErrCorruptLedger, book.ID, len(open))
	}

	record := open[0]
	if book.BorrowerID == nil || *book.BorrowerID != record.BorrowerID {
		return nil, fmt.Errorf("%w: open record %s does not match the borrower of book %s", ErrCorruptLedger, record.ID, book.ID)
	}
	return &record, nil
}
