package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"libmanager/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique column (email, title) is already taken
	ErrDuplicate = errors.New("duplicate")
	// ErrInUse is returned when a row cannot be removed because a loan still references it
	ErrInUse = errors.New("in use")
)

// Storage defines the interface for the primary transactional store
type Storage interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	// DeleteUser fails with ErrInUse while the user still borrows a book
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListPatrons(ctx context.Context, page models.Page) ([]models.User, error)

	// Book operations
	CreateBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	// UpdateBook writes the catalog fields only; availability and borrower are
	// owned by the lending transitions.
	UpdateBook(ctx context.Context, book *models.Book) error
	// DeleteBook fails with ErrInUse while the book is borrowed
	DeleteBook(ctx context.Context, id uuid.UUID) error
	ListAvailableBooks(ctx context.Context, page models.Page) ([]models.Book, error)
	// SearchAvailableBooks matches query against title or author, case-insensitively
	SearchAvailableBooks(ctx context.Context, query string, page models.Page) ([]models.Book, error)
	ListBooksBorrowedBy(ctx context.Context, userID uuid.UUID) ([]models.Book, error)
	ListLoans(ctx context.Context) ([]models.Loan, error)

	// InTx runs fn in a single transaction. Any error returned by fn rolls
	// back every write made through tx.
	InTx(ctx context.Context, fn func(tx LendingTx) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// LendingTx is the transactional view used by borrow and return
type LendingTx interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetBookForUpdate reads the book and holds it against concurrent
	// transitions until the transaction ends.
	GetBookForUpdate(ctx context.Context, id uuid.UUID) (*models.Book, error)
	// SetBorrower sets the borrower (nil clears it) and availability together
	SetBorrower(ctx context.Context, bookID uuid.UUID, borrowerID *uuid.UUID, at time.Time) error

	// FindRecordsForBook returns every ledger record still referencing bookID
	FindRecordsForBook(ctx context.Context, bookID uuid.UUID) ([]models.LendingRecord, error)
	CreateRecord(ctx context.Context, record *models.LendingRecord) error
	// CloseRecord clears the book reference and marks the record returned
	CloseRecord(ctx context.Context, recordID uuid.UUID, returnedAt time.Time) error
}

// ActivityLog is the append-only lending history used for reporting
type ActivityLog interface {
	RecordLendingEvent(ctx context.Context, event models.LendingEvent) error
	GetLastEvents(ctx context.Context, limit int) ([]models.LendingEvent, error)

	// GetTopBooks returns top N books by borrow count within the specified time period
	GetTopBooks(ctx context.Context, limit int, startDate, endDate time.Time) ([]models.BookStat, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
