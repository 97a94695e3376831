// Package catalog manages the books on the shelf and caches book details.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"libmanager/internal/apperr"
	"libmanager/internal/metrics"
	"libmanager/internal/models"
	"libmanager/internal/storage"
)

const (
	msgActorNotFound  = "User not found"
	msgBookNotFound   = "book not found"
	msgNotAuthorized  = "You are not authorized to do this"
	msgDuplicateTitle = "A book with this title already exists"
	msgCurrentlyLent  = "This book is currently borrowed"
	msgUpdated        = "Book information is successfully updated"
)

// BookInput carries the catalog fields an admin can set
type BookInput struct {
	Title           string
	Author          string
	PublicationYear int
	ISBN            string
}

// BookDetail is a book together with its current borrower, if any
type BookDetail struct {
	Book     models.Book
	Borrower *models.User
}

type Service struct {
	store   storage.Storage
	cache   *lru.LRU[uuid.UUID, BookDetail]
	metrics *metrics.Metrics
	now     func() time.Time

	// generation counts invalidations. A detail read from the store is only
	// cached if no invalidation happened while it was being read.
	mu         sync.Mutex
	generation uint64
}

// NewService creates the catalog service. m may be nil.
func NewService(store storage.Storage, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics) *Service {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	return &Service{
		store:   store,
		cache:   lru.NewLRU[uuid.UUID, BookDetail](cacheSize, nil, cacheTTL),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddBook puts a new, available book on the shelf. Admin only.
func (s *Service) AddBook(ctx context.Context, actorEmail string, in BookInput) (string, *models.Book, error) {
	if _, err := s.requireAdmin(ctx, actorEmail); err != nil {
		return "", nil, err
	}

	now := s.now()
	book := &models.Book{
		Title:           strings.TrimSpace(in.Title),
		Author:          strings.TrimSpace(in.Author),
		PublicationYear: in.PublicationYear,
		ISBN:            in.ISBN,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateBook(ctx, book); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return "", nil, apperr.Conflict(msgDuplicateTitle)
		}
		return "", nil, fmt.Errorf("failed to create book: %w", err)
	}

	return fmt.Sprintf("'%s' by %s has been added successfully", book.Title, book.Author), book, nil
}

// ListAvailable returns a page of books that can be borrowed right now
func (s *Service) ListAvailable(ctx context.Context, actorEmail string, page models.Page) ([]models.Book, error) {
	if _, err := s.actor(ctx, actorEmail); err != nil {
		return nil, err
	}

	books, err := s.store.ListAvailableBooks(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list available books: %w", err)
	}
	return books, nil
}

// Search matches query against the title and author of available books
func (s *Service) Search(ctx context.Context, actorEmail, query string, page models.Page) ([]models.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListAvailable(ctx, actorEmail, page)
	}
	if _, err := s.actor(ctx, actorEmail); err != nil {
		return nil, err
	}

	books, err := s.store.SearchAvailableBooks(ctx, query, page)
	if err != nil {
		return nil, fmt.Errorf("failed to search books: %w", err)
	}
	return books, nil
}

// Detail returns a book and its borrower, served from the cache when possible
func (s *Service) Detail(ctx context.Context, actorEmail string, id uuid.UUID) (*BookDetail, error) {
	if _, err := s.actor(ctx, actorEmail); err != nil {
		return nil, err
	}

	if detail, ok := s.cache.Get(id); ok {
		s.metrics.RecordCacheLookup(true)
		return &detail, nil
	}
	s.metrics.RecordCacheLookup(false)
	seen := s.currentGeneration()

	book, err := s.store.GetBook(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgBookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	detail := BookDetail{Book: *book}
	if book.BorrowerID != nil {
		borrower, err := s.store.GetUserByID(ctx, *book.BorrowerID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to get borrower: %w", err)
		}
		detail.Borrower = borrower
	}

	s.mu.Lock()
	if s.generation == seen {
		s.cache.Add(id, detail)
	}
	s.mu.Unlock()
	return &detail, nil
}

// Update rewrites the catalog fields of a book. Admin only.
func (s *Service) Update(ctx context.Context, actorEmail string, id uuid.UUID, in BookInput) (string, error) {
	if _, err := s.requireAdmin(ctx, actorEmail); err != nil {
		return "", err
	}
	defer s.Invalidate(id)

	book, err := s.store.GetBook(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound(msgBookNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get book: %w", err)
	}

	book.Title = strings.TrimSpace(in.Title)
	book.Author = strings.TrimSpace(in.Author)
	book.PublicationYear = in.PublicationYear
	book.ISBN = in.ISBN
	book.UpdatedAt = s.now()

	if err := s.store.UpdateBook(ctx, book); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return "", apperr.Conflict(msgDuplicateTitle)
		case errors.Is(err, storage.ErrNotFound):
			return "", apperr.NotFound(msgBookNotFound)
		}
		return "", fmt.Errorf("failed to update book: %w", err)
	}
	return msgUpdated, nil
}

// Remove takes a book off the shelf. Admin only; borrowed books stay.
func (s *Service) Remove(ctx context.Context, actorEmail string, id uuid.UUID) (string, error) {
	if _, err := s.requireAdmin(ctx, actorEmail); err != nil {
		return "", err
	}
	defer s.Invalidate(id)

	book, err := s.store.GetBook(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound(msgBookNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get book: %w", err)
	}

	if err := s.store.DeleteBook(ctx, id); err != nil {
		switch {
		case errors.Is(err, storage.ErrInUse):
			return "", apperr.Conflict(msgCurrentlyLent)
		case errors.Is(err, storage.ErrNotFound):
			return "", apperr.NotFound(msgBookNotFound)
		}
		return "", fmt.Errorf("failed to delete book: %w", err)
	}
	return fmt.Sprintf("'%s' by %s has been removed", book.Title, book.Author), nil
}

// Invalidate drops the cached detail of a book
func (s *Service) Invalidate(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cache.Remove(id)
}

// InvalidateAll drops every cached detail. Used when a patron changes, since
// cached details embed the borrower.
func (s *Service) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cache.Purge()
}

func (s *Service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// LendingCompleted evicts the book whose loan state just changed
func (s *Service) LendingCompleted(ctx context.Context, event models.LendingEvent) {
	s.Invalidate(event.BookID)
}

func (s *Service) actor(ctx context.Context, email string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgActorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Service) requireAdmin(ctx context.Context, email string) (*models.User, error) {
	user, err := s.actor(ctx, email)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return nil, apperr.Forbidden(msgNotAuthorized)
	}
	return user, nil
}
