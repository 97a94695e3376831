package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the access level of a library user
type Role string

const (
	RolePatron Role = "PATRON"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RolePatron || r == RoleAdmin
}

// User is a library account. Borrowed books are not stored on the user;
// they are derived from Book.BorrowerID.
type User struct {
	ID               uuid.UUID
	FirstName        string
	LastName         string
	Email            string
	PhoneNumber      string
	PasswordHash     string
	Role             Role
	Enabled          bool
	PasswordRecovery bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsAdmin reports whether the user has the ADMIN role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Book is a single lendable unit in the catalog.
// Available is false exactly when BorrowerID is set.
type Book struct {
	ID              uuid.UUID
	Title           string
	Author          string
	PublicationYear int
	ISBN            string
	Available       bool
	BorrowerID      *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LendingRecord is one loan in the ledger. BookID is cleared when the loan
// is closed, so a closed record no longer resolves back to its book.
type LendingRecord struct {
	ID         uuid.UUID
	BookID     *uuid.UUID
	BorrowerID uuid.UUID
	BorrowedAt time.Time
	ReturnedAt *time.Time
	Returned   bool
}

// Open reports whether the record is an active loan
func (r *LendingRecord) Open() bool {
	return !r.Returned && r.BookID != nil
}

// LendingAction names a completed lending transition
type LendingAction string

const (
	ActionBorrow LendingAction = "borrow"
	ActionReturn LendingAction = "return"
)

// LendingEvent is the activity-log entry written after a transition commits
type LendingEvent struct {
	OccurredAt  time.Time
	Action      LendingAction
	BookID      uuid.UUID
	BookTitle   string
	BookAuthor  string
	PatronID    uuid.UUID
	PatronEmail string
}

// BookStat represents book borrowing statistics
type BookStat struct {
	BookTitle   string
	BookAuthor  string
	BorrowCount int
}

// Loan pairs a borrowed book with its borrower for listings
type Loan struct {
	Book     Book
	Borrower User
}

// Page is a zero-based page request
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset of the page
func (p Page) Offset() int {
	return p.Number * p.Size
}
