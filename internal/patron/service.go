// Package patron lets admins browse patrons and lets patrons manage their
// own account.
package patron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"libmanager/internal/apperr"
	"libmanager/internal/models"
	"libmanager/internal/storage"
)

const (
	msgActorNotFound  = "User not found"
	msgPatronNotFound = "Patron does not exist"
	msgNotAuthorized  = "You are not authorized to do this"
	msgViewForbidden  = "You are not authorized to view this information"
	msgEmailTaken     = "Email Address already exists"
	msgStillBorrowing = "Patron still has borrowed books"
	msgUpdated        = "Your details are successfully updated"
	msgRemovedSelf    = "You have been removed"
	msgRemovedByAdmin = "Patron successfully removed"
)

// Input holds the profile fields a patron can change
type Input struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
}

// Detail is a patron together with the books they currently hold
type Detail struct {
	User     models.User
	Borrowed []models.Book
}

type Service struct {
	store    storage.Storage
	onChange func(id uuid.UUID)
	now      func() time.Time
}

type Option func(*Service)

// WithChangeHook runs fn after a patron's profile is updated or removed
func WithChangeHook(fn func(id uuid.UUID)) Option {
	return func(s *Service) {
		s.onChange = fn
	}
}

func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:    store,
		onChange: func(uuid.UUID) {},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a page of users with the PATRON role
func (s *Service) List(ctx context.Context, actorEmail string, page models.Page) ([]models.User, error) {
	if _, err := s.actor(ctx, actorEmail); err != nil {
		return nil, err
	}

	users, err := s.store.ListPatrons(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list patrons: %w", err)
	}
	return users, nil
}

// Detail shows one patron and their loans. Admin only.
func (s *Service) Detail(ctx context.Context, actorEmail string, id uuid.UUID) (*Detail, error) {
	actor, err := s.actor(ctx, actorEmail)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(msgViewForbidden)
	}

	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgPatronNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patron: %w", err)
	}

	borrowed, err := s.store.ListBooksBorrowedBy(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowed books: %w", err)
	}
	return &Detail{User: *user, Borrowed: borrowed}, nil
}

// Update changes a patron's own profile
func (s *Service) Update(ctx context.Context, actorEmail string, id uuid.UUID, in Input) (string, error) {
	actor, err := s.actor(ctx, actorEmail)
	if err != nil {
		return "", err
	}
	target, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound(msgActorNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get patron: %w", err)
	}
	if actor.ID != target.ID {
		return "", apperr.Forbidden(msgNotAuthorized)
	}

	target.FirstName = strings.TrimSpace(in.FirstName)
	target.LastName = strings.TrimSpace(in.LastName)
	target.Email = strings.TrimSpace(in.Email)
	target.PhoneNumber = in.PhoneNumber
	target.UpdatedAt = s.now()

	if err := s.store.UpdateUser(ctx, target); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return "", apperr.Conflict(msgEmailTaken)
		}
		return "", fmt.Errorf("failed to update patron: %w", err)
	}
	s.onChange(target.ID)
	return msgUpdated, nil
}

// Remove deletes a patron account. Patrons may remove themselves; admins
// may remove anyone. Nobody holding a book can be removed.
func (s *Service) Remove(ctx context.Context, actorEmail string, id uuid.UUID) (string, error) {
	actor, err := s.actor(ctx, actorEmail)
	if err != nil {
		return "", err
	}
	target, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound(msgActorNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get patron: %w", err)
	}

	var msg string
	switch {
	case actor.ID == target.ID:
		msg = msgRemovedSelf
	case actor.IsAdmin():
		msg = msgRemovedByAdmin
	default:
		return "", apperr.Forbidden(msgNotAuthorized)
	}

	if err := s.store.DeleteUser(ctx, target.ID); err != nil {
		switch {
		case errors.Is(err, storage.ErrInUse):
			return "", apperr.Conflict(msgStillBorrowing)
		case errors.Is(err, storage.ErrNotFound):
			return "", apperr.NotFound(msgActorNotFound)
		}
		return "", fmt.Errorf("failed to delete patron: %w", err)
	}
	s.onChange(target.ID)
	return msg, nil
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
