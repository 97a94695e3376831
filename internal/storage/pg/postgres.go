// Package pg is the PostgreSQL implementation of storage.Storage.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"libmanager/internal/models"
	"libmanager/internal/storage"
)

// Pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it in tests
type Pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// querier is shared by the pool and open transactions
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	userColumns   = `id, first_name, last_name, email, phone_number, password_hash, role, is_enabled, password_recovery, created_at, updated_at`
	bookColumns   = `id, title, author, publication_year, isbn, available, borrower_id, created_at, updated_at`
	recordColumns = `id, book_id, borrower_id, borrowed_at, returned_at, returned`
)

type PostgresDB struct {
	pool Pool
}

// NewPostgresDB connects to PostgreSQL and waits for it to answer pings
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := storage.PingWithRetry(ctx, 5, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// NewPostgresDBWithPool wraps an existing pool
func NewPostgresDBWithPool(pool Pool) *PostgresDB {
	return &PostgresDB{pool: pool}
}

// Initialize is a no-op - tables are managed via migrations
func (db *PostgresDB) Initialize(ctx context.Context) error {
	return nil
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

// CreateUser inserts a new user
func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	stampCreated(&user.CreatedAt, &user.UpdatedAt)

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID.String(), user.FirstName, user.LastName, user.Email, user.PhoneNumber,
		user.PasswordHash, string(user.Role), user.Enabled, user.PasswordRecovery,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

// GetUserByID returns a user by id
func (db *PostgresDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return getUserByID(ctx, db.pool, id)
}

// GetUserByEmail returns a user by email, case-insensitively
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getUserByEmail(ctx, db.pool, email)
}

// UpdateUser writes every mutable user column
func (db *PostgresDB) UpdateUser(ctx context.Context, user *models.User) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, email = $4, phone_number = $5,
		 password_hash = $6, role = $7, is_enabled = $8, password_recovery = $9, updated_at = $10
		 WHERE id = $1`,
		user.ID.String(), user.FirstName, user.LastName, user.Email, user.PhoneNumber,
		user.PasswordHash, string(user.Role), user.Enabled, user.PasswordRecovery, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. The books.borrower_id foreign key rejects the
// delete while the user still holds a book.
func (db *PostgresDB) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPatrons returns users with the PATRON role ordered by email
func (db *PostgresDB) ListPatrons(ctx context.Context, page models.Page) ([]models.User, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY email LIMIT $2 OFFSET $3`,
		string(models.RolePatron), limitArg(page), page.Offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list patrons: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list patrons: %w", err)
	}
	return users, nil
}

// CreateBook inserts a new, available book
func (db *PostgresDB) CreateBook(ctx context.Context, book *models.Book) error {
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	book.Available = true
	book.BorrowerID = nil
	stampCreated(&book.CreatedAt, &book.UpdatedAt)

	_, err := db.pool.Exec(ctx,
		`INSERT INTO books (`+bookColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		book.ID.String(), book.Title, book.Author, book.PublicationYear, book.ISBN,
		true, nil, book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", mapError(err))
	}
	return nil
}

// GetBook returns a book by id
func (db *PostgresDB) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id.String())
	return scanBook(row)
}

// UpdateBook writes catalog fields, leaving the loan columns untouched
func (db *PostgresDB) UpdateBook(ctx context.Context, book *models.Book) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE books SET title = $2, author = $3, publication_year = $4, isbn = $5, updated_at = $6
		 WHERE id = $1`,
		book.ID.String(), book.Title, book.Author, book.PublicationYear, book.ISBN, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteBook removes a book that is not on loan
func (db *PostgresDB) DeleteBook(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM books WHERE id = $1 AND available`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", mapError(err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing deleted: either the book is gone or it is borrowed
	if _, err := db.GetBook(ctx, id); err != nil {
		return err
	}
	return storage.ErrInUse
}

// ListAvailableBooks returns available books ordered by title
func (db *PostgresDB) ListAvailableBooks(ctx context.Context, page models.Page) ([]models.Book, error) {
	return db.queryBooks(ctx, "list available books",
		`SELECT `+bookColumns+` FROM books WHERE available ORDER BY title LIMIT $1 OFFSET $2`,
		limitArg(page), page.Offset(),
	)
}

// SearchAvailableBooks returns available books whose title or author contains query
func (db *PostgresDB) SearchAvailableBooks(ctx context.Context, query string, page models.Page) ([]models.Book, error) {
	return db.queryBooks(ctx, "search books",
		`SELECT `+bookColumns+` FROM books
		 WHERE available AND (title ILIKE $1 OR author ILIKE $1)
		 ORDER BY title LIMIT $2 OFFSET $3`,
		likePattern(query), limitArg(page), page.Offset(),
	)
}

// ListBooksBorrowedBy returns the books currently lent to userID
func (db *PostgresDB) ListBooksBorrowedBy(ctx context.Context, userID uuid.UUID) ([]models.Book, error) {
	return db.queryBooks(ctx, "list borrowed books",
		`SELECT `+bookColumns+` FROM books WHERE borrower_id = $1 ORDER BY title`,
		userID.String(),
	)
}

// ListLoans returns every borrowed book with its borrower
func (db *PostgresDB) ListLoans(ctx context.Context) ([]models.Loan, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT b.id, b.title, b.author, b.publication_year, b.isbn, b.available, b.borrower_id,
		        b.created_at, b.updated_at,
		        u.id, u.first_name, u.last_name, u.email
		 FROM books b JOIN users u ON u.id = b.borrower_id
		 ORDER BY b.title`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	loans := []models.Loan{}
	for rows.Next() {
		var (
			loan           models.Loan
			bookID, userID string
			borrowerID     *string
		)
		if err := rows.Scan(&bookID, &loan.Book.Title, &loan.Book.Author, &loan.Book.PublicationYear, &loan.Book.ISBN,
			&loan.Book.Available, &borrowerID, &loan.Book.CreatedAt, &loan.Book.UpdatedAt,
			&userID, &loan.Borrower.FirstName, &loan.Borrower.LastName, &loan.Borrower.Email); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		if loan.Book.ID, err = uuid.Parse(bookID); err != nil {
			return nil, fmt.Errorf("failed to parse book id: %w", err)
		}
		if loan.Book.BorrowerID, err = parseNullableID(borrowerID); err != nil {
			return nil, err
		}
		if loan.Borrower.ID, err = uuid.Parse(userID); err != nil {
			return nil, fmt.Errorf("failed to parse user id: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

// InTx runs fn inside a read-committed transaction. Transitions serialize on
// the book row lock taken by GetBookForUpdate.
func (db *PostgresDB) InTx(ctx context.Context, fn func(tx storage.LendingTx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&lendingTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("failed to rollback transaction: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

func (db *PostgresDB) queryBooks(ctx context.Context, op, sql string, args ...any) ([]models.Book, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return books, nil
}

// lendingTx is the transactional view handed to InTx callbacks
type lendingTx struct {
	tx pgx.Tx
}

func (t *lendingTx) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return getUserByID(ctx, t.tx, id)
}

func (t *lendingTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getUserByEmail(ctx, t.tx, email)
}

func (t *lendingTx) GetBookForUpdate(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, id.String())
	return scanBook(row)
}

func (t *lendingTx) SetBorrower(ctx context.Context, bookID uuid.UUID, borrowerID *uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE books SET borrower_id = $2, available = $3, updated_at = $4 WHERE id = $1`,
		bookID.String(), nullableID(borrowerID), borrowerID == nil, at,
	)
	if err != nil {
		return fmt.Errorf("failed to set borrower: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *lendingTx) FindRecordsForBook(ctx context.Context, bookID uuid.UUID) ([]models.LendingRecord, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+recordColumns+` FROM lending_records WHERE book_id = $1 ORDER BY borrowed_at`,
		bookID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find lending records: %w", err)
	}
	defer rows.Close()

	var records []models.LendingRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find lending records: %w", err)
	}
	return records, nil
}

func (t *lendingTx) CreateRecord(ctx context.Context, record *models.LendingRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO lending_records (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID.String(), nullableID(record.BookID), record.BorrowerID.String(),
		record.BorrowedAt, record.ReturnedAt, record.Returned,
	)
	if err != nil {
		return fmt.Errorf("failed to create lending record: %w", mapError(err))
	}
	return nil
}

func (t *lendingTx) CloseRecord(ctx context.Context, recordID uuid.UUID, returnedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE lending_records SET book_id = NULL, returned = TRUE, returned_at = $2 WHERE id = $1`,
		recordID.String(), returnedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close lending record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func getUserByID(ctx context.Context, q querier, id uuid.UUID) (*models.User, error) {
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	return scanUser(row)
}

func getUserByEmail(ctx context.Context, q querier, email string) (*models.User, error) {
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		user     models.User
		id, role string
	)
	err := row.Scan(&id, &user.FirstName, &user.LastName, &user.Email, &user.PhoneNumber,
		&user.PasswordHash, &role, &user.Enabled, &user.PasswordRecovery,
		&user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if user.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse user id: %w", err)
	}
	user.Role = models.Role(role)
	return &user, nil
}

func scanBook(row pgx.Row) (*models.Book, error) {
	var (
		book       models.Book
		id         string
		borrowerID *string
	)
	err := row.Scan(&id, &book.Title, &book.Author, &book.PublicationYear, &book.ISBN,
		&book.Available, &borrowerID, &book.CreatedAt, &book.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan book: %w", err)
	}

	if book.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse book id: %w", err)
	}
	if book.BorrowerID, err = parseNullableID(borrowerID); err != nil {
		return nil, err
	}
	return &book, nil
}

func scanRecord(row pgx.Row) (*models.LendingRecord, error) {
	var (
		record         models.LendingRecord
		id, borrowerID string
		bookID         *string
	)
	if err := row.Scan(&id, &bookID, &borrowerID, &record.BorrowedAt, &record.ReturnedAt, &record.Returned); err != nil {
		return nil, fmt.Errorf("failed to scan lending record: %w", err)
	}

	var err error
	if record.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse record id: %w", err)
	}
	if record.BookID, err = parseNullableID(bookID); err != nil {
		return nil, err
	}
	if record.BorrowerID, err = uuid.Parse(borrowerID); err != nil {
		return nil, fmt.Errorf("failed to parse borrower id: %w", err)
	}
	return &record, nil
}

// mapError translates constraint violations into storage sentinels
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, pgErr.ConstraintName)
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%w: %s", storage.ErrInUse, pgErr.ConstraintName)
		}
	}
	return err
}

// nullableID returns an untyped nil for a missing id so it binds as NULL
func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullableID(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id %q: %w", *s, err)
	}
	return &id, nil
}

// limitArg binds a NULL limit (no limit) for unsized pages
func limitArg(page models.Page) any {
	if page.Size <= 0 {
		return nil
	}
	return page.Size
}

func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	return "%" + escaped + "%"
}

func stampCreated(createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt.IsZero() {
		*updatedAt = *createdAt
	}
}
