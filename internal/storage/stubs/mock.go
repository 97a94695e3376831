package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"libmanager/internal/models"
	"libmanager/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
type MockDB struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]models.User
	books   map[uuid.UUID]models.Book
	records map[uuid.UUID]models.LendingRecord
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:   make(map[uuid.UUID]models.User),
		books:   make(map[uuid.UUID]models.Book),
		records: make(map[uuid.UUID]models.LendingRecord),
	}
}

// Initialize sets up a few default books for local runs
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defaults := []models.Book{
		{Title: "The Pragmatic Programmer", Author: "Andrew Hunt", PublicationYear: 1999, ISBN: "9780201616224"},
		{Title: "The Go Programming Language", Author: "Alan Donovan", PublicationYear: 2015, ISBN: "9780134190440"},
		{Title: "Designing Data-Intensive Applications", Author: "Martin Kleppmann", PublicationYear: 2017, ISBN: "9781449373320"},
	}

	now := time.Now().UTC()
	for _, book := range defaults {
		if m.titleTaken(book.Title, uuid.Nil) {
			continue
		}
		book.ID = uuid.New()
		book.Available = true
		book.CreatedAt = now
		book.UpdatedAt = now
		m.books[book.ID] = book
	}

	return nil
}

// CreateUser stores a new user
func (m *MockDB) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emailTaken(user.Email, uuid.Nil) {
		return storage.ErrDuplicate
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	m.users[user.ID] = *user
	return nil
}

// GetUserByID returns a user by id
func (m *MockDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.userByID(id)
}

// GetUserByEmail returns a user by email, case-insensitively
func (m *MockDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.userByEmail(email)
}

// UpdateUser replaces a stored user
func (m *MockDB) UpdateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; !ok {
		return storage.ErrNotFound
	}
	if m.emailTaken(user.Email, user.ID) {
		return storage.ErrDuplicate
	}
	m.users[user.ID] = *user
	return nil
}

// DeleteUser removes a user that holds no books
func (m *MockDB) DeleteUser(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return storage.ErrNotFound
	}
	for _, book := range m.books {
		if book.BorrowerID != nil && *book.BorrowerID == id {
			return storage.ErrInUse
		}
	}
	delete(m.users, id)
	return nil
}

// ListPatrons returns users with the PATRON role ordered by email
func (m *MockDB) ListPatrons(ctx context.Context, page models.Page) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	patrons := []models.User{}
	for _, u := range m.users {
		if u.Role == models.RolePatron {
			patrons = append(patrons, u)
		}
	}

	sort.Slice(patrons, func(i, j int) bool {
		return patrons[i].Email < patrons[j].Email
	})

	return paginate(patrons, page), nil
}

// CreateBook stores a new, available book
func (m *MockDB) CreateBook(ctx context.Context, book *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.titleTaken(book.Title, uuid.Nil) {
		return storage.ErrDuplicate
	}
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	book.Available = true
	book.BorrowerID = nil
	m.books[book.ID] = *book
	return nil
}

// GetBook returns a book by id
func (m *MockDB) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneBook(book), nil
}

// UpdateBook writes catalog fields, leaving the loan state untouched
func (m *MockDB) UpdateBook(ctx context.Context, book *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.books[book.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if m.titleTaken(book.Title, book.ID) {
		return storage.ErrDuplicate
	}

	stored.Title = book.Title
	stored.Author = book.Author
	stored.PublicationYear = book.PublicationYear
	stored.ISBN = book.ISBN
	stored.UpdatedAt = book.UpdatedAt
	m.books[book.ID] = stored
	return nil
}

// DeleteBook removes a book that is not on loan. Closed records keep
// their history; any record still pointing at the book loses the reference.
func (m *MockDB) DeleteBook(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !book.Available {
		return storage.ErrInUse
	}

	for recID, rec := range m.records {
		if rec.BookID != nil && *rec.BookID == id {
			rec.BookID = nil
			m.records[recID] = rec
		}
	}
	delete(m.books, id)
	return nil
}

// ListAvailableBooks returns available books ordered by title
func (m *MockDB) ListAvailableBooks(ctx context.Context, page models.Page) ([]models.Book, error) {
	return m.SearchAvailableBooks(ctx, "", page)
}

// SearchAvailableBooks returns available books whose title or author contains query
func (m *MockDB) SearchAvailableBooks(ctx context.Context, query string, page models.Page) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query = strings.ToLower(query)
	books := []models.Book{}
	for _, book := range m.books {
		if !book.Available {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(book.Title), query) &&
			!strings.Contains(strings.ToLower(book.Author), query) {
			continue
		}
		books = append(books, book)
	}

	sortBooks(books)
	return paginate(books, page), nil
}

// ListBooksBorrowedBy returns the books currently lent to userID
func (m *MockDB) ListBooksBorrowedBy(ctx context.Context, userID uuid.UUID) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := []models.Book{}
	for _, book := range m.books {
		if book.BorrowerID != nil && *book.BorrowerID == userID {
			books = append(books, book)
		}
	}

	sortBooks(books)
	return books, nil
}

// ListLoans returns every borrowed book with its borrower
func (m *MockDB) ListLoans(ctx context.Context) ([]models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var borrowed []models.Book
	for _, book := range m.books {
		if book.BorrowerID != nil {
			borrowed = append(borrowed, book)
		}
	}
	sortBooks(borrowed)

	loans := make([]models.Loan, 0, len(borrowed))
	for _, book := range borrowed {
		loans = append(loans, models.Loan{Book: book, Borrower: m.users[*book.BorrowerID]})
	}
	return loans, nil
}

// InTx runs fn against staged copies of the books and records and publishes
// them only when fn succeeds. The write lock is held for the whole call, so
// transactions are fully serialized.
func (m *MockDB) InTx(ctx context.Context, fn func(tx storage.LendingTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &mockTx{
		db:      m,
		books:   make(map[uuid.UUID]models.Book, len(m.books)),
		records: make(map[uuid.UUID]models.LendingRecord, len(m.records)),
	}
	for id, book := range m.books {
		tx.books[id] = book
	}
	for id, rec := range m.records {
		tx.records[id] = rec
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.books = tx.books
	m.records = tx.records
	return nil
}

// Records returns a snapshot of the lending ledger, for assertions in tests
func (m *MockDB) Records() []models.LendingRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]models.LendingRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].BorrowedAt.Before(records[j].BorrowedAt)
	})
	return records
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

func (m *MockDB) userByID(id uuid.UUID) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &user, nil
}

func (m *MockDB) userByEmail(email string) (*models.User, error) {
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockDB) emailTaken(email string, except uuid.UUID) bool {
	for id, u := range m.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (m *MockDB) titleTaken(title string, except uuid.UUID) bool {
	for id, b := range m.books {
		if id != except && b.Title == title {
			return true
		}
	}
	return false
}

// mockTx is the staged view handed to InTx callbacks
type mockTx struct {
	db      *MockDB
	books   map[uuid.UUID]models.Book
	records map[uuid.UUID]models.LendingRecord
}

func (tx *mockTx) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return tx.db.userByID(id)
}

func (tx *mockTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return tx.db.userByEmail(email)
}

func (tx *mockTx) GetBookForUpdate(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	book, ok := tx.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneBook(book), nil
}

func (tx *mockTx) SetBorrower(ctx context.Context, bookID uuid.UUID, borrowerID *uuid.UUID, at time.Time) error {
	book, ok := tx.books[bookID]
	if !ok {
		return storage.ErrNotFound
	}
	if borrowerID != nil {
		id := *borrowerID
		book.BorrowerID = &id
	} else {
		book.BorrowerID = nil
	}
	book.Available = borrowerID == nil
	book.UpdatedAt = at
	tx.books[bookID] = book
	return nil
}

func (tx *mockTx) FindRecordsForBook(ctx context.Context, bookID uuid.UUID) ([]models.LendingRecord, error) {
	var records []models.LendingRecord
	for _, rec := range tx.records {
		if rec.BookID != nil && *rec.BookID == bookID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].BorrowedAt.Before(records[j].BorrowedAt)
	})
	return records, nil
}

func (tx *mockTx) CreateRecord(ctx context.Context, record *models.LendingRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	tx.records[record.ID] = *record
	return nil
}

func (tx *mockTx) CloseRecord(ctx context.Context, recordID uuid.UUID, returnedAt time.Time) error {
	rec, ok := tx.records[recordID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.BookID = nil
	rec.Returned = true
	rec.ReturnedAt = &returnedAt
	tx.records[recordID] = rec
	return nil
}

// SeedRecord inserts a ledger record directly, bypassing the lending rules.
// Tests use it to build states the state machine would never produce.
func (m *MockDB) SeedRecord(record models.LendingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	m.records[record.ID] = record
}

func cloneBook(book models.Book) *models.Book {
	if book.BorrowerID != nil {
		id := *book.BorrowerID
		book.BorrowerID = &id
	}
	return &book
}

func sortBooks(books []models.Book) {
	sort.Slice(books, func(i, j int) bool {
		return books[i].Title < books[j].Title
	})
}

func paginate[T any](items []T, page models.Page) []T {
	if page.Size <= 0 {
		return items
	}
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
