// Package auth handles signup, email verification, login and passwords.
// Sessions are stateless HS256 JWTs whose subject is the user's email.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"libmanager/internal/apperr"
	"libmanager/internal/mail"
	"libmanager/internal/models"
	"libmanager/internal/storage"
)

const (
	msgUserNotFound       = "User not found"
	msgEmailTaken         = "Email Address already exists"
	msgPasswordMismatch   = "Provided passwords do not match"
	msgLinkExpired        = "Link has expired. Please request for a new link"
	msgLinkMalformed      = "Link is not properly formatted"
	msgAlreadyVerified    = "Your email address is already verified"
	msgBadCredentials     = "Incorrect user details"
	msgNotVerified        = "Email is not verified. Check your email for verification link"
	msgWrongOldPassword   = "Incorrect old password"
	msgNewPasswordsDiffer = "New passwords do not match"
	msgSessionExpired     = "Your session has expired. Please login"
	msgBadToken           = "Incorrect token"
	msgResetNotRequested  = "Password reset was not requested for this account"
	msgUnknownLinkType    = "Unsupported link type"
)

// SignupNotice accompanies a successful signup
const SignupNotice = "Check your email for verification link"

// LinkKind selects which emailed link SendLink produces
type LinkKind string

const (
	LinkSignup        LinkKind = "SIGNUP"
	LinkPasswordReset LinkKind = "PASSWORD_RESET"
)

// Config holds the token settings of the service
type Config struct {
	Secret          string
	SessionTTL      time.Duration
	VerificationTTL time.Duration
	// BaseURL prefixes the links sent by email
	BaseURL string
}

// SignupInput is a new account request
type SignupInput struct {
	FirstName       string
	LastName        string
	Email           string
	PhoneNumber     string
	Password        string
	ConfirmPassword string
}

// Session is returned on a successful login
type Session struct {
	FirstName string
	LastName  string
	Email     string
	Token     string
}

type Service struct {
	store      storage.Storage
	mailer     mail.Sender
	logger     *zap.Logger
	secret     []byte
	sessionTTL time.Duration
	linkTTL    time.Duration
	baseURL    string
	cost       int
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for tokens and timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithBcryptCost overrides the bcrypt work factor
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

func NewService(store storage.Storage, mailer mail.Sender, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		mailer:     mailer,
		logger:     logger,
		secret:     []byte(cfg.Secret),
		sessionTTL: cfg.SessionTTL,
		linkTTL:    cfg.VerificationTTL,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cost:       bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 24 * time.Hour
	}
	if s.linkTTL <= 0 {
		s.linkTTL = 15 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup registers a disabled PATRON account and emails a verification link
func (s *Service) Signup(ctx context.Context, in SignupInput) (string, error) {
	email := strings.TrimSpace(in.Email)
	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return "", apperr.Conflict(msgEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if in.Password != in.ConfirmPassword {
		return "", apperr.Invalid(msgPasswordMismatch)
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return "", err
	}

	now := s.now()
	user := &models.User{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        email,
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: hash,
		Role:         models.RolePatron,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return "", apperr.Conflict(msgEmailTaken)
		}
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	// The account exists either way; a lost mail is recovered through SendLink.
	if err := s.sendVerification(ctx, user); err != nil {
		s.logger.Error("Failed to send verification mail",
			zap.String("email", user.Email),
			zap.Error(err))
	}

	return fmt.Sprintf("Welcome! '%s'. You have successfully signed up", user.FirstName), nil
}

// ConfirmEmail enables the account named by a verification link
func (s *Service) ConfirmEmail(ctx context.Context, token string) (string, error) {
	claims, err := s.parseLink(token, audienceVerification)
	if err != nil {
		return "", err
	}

	user, err := s.user(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	if user.Enabled {
		return "", apperr.Conflict(msgAlreadyVerified)
	}

	user.Enabled = true
	user.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to enable user: %w", err)
	}
	return "Your email address is verified. You can now login", nil
}

// SendLink emails a fresh verification link or a password reset link
func (s *Service) SendLink(ctx context.Context, email string, kind LinkKind) (string, error) {
	if kind != LinkSignup && kind != LinkPasswordReset {
		return "", apperr.Invalid(msgUnknownLinkType)
	}

	user, err := s.user(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", err
	}

	if kind == LinkSignup {
		if user.Enabled {
			return "", apperr.Conflict(msgAlreadyVerified)
		}
		if err := s.sendVerification(ctx, user); err != nil {
			return "", err
		}
		return "A new verification link has been sent to your email", nil
	}

	user.PasswordRecovery = true
	user.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to start password recovery: %w", err)
	}

	token, err := s.sign(user, audiencePasswordReset, s.linkTTL)
	if err != nil {
		return "", err
	}
	msg, err := mail.PasswordResetMessage(user.Email, mail.LinkData{
		Name:   user.FirstName,
		Link:   s.baseURL + "/auth/password-reset/" + token,
		Expiry: s.linkTTL.String(),
	})
	if err != nil {
		return "", err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to send password reset mail: %w", err)
	}
	return "A password reset link has been sent to your email", nil
}

// ResetPassword sets a new password for an account in recovery
func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string) (string, error) {
	claims, err := s.parseLink(token, audiencePasswordReset)
	if err != nil {
		return "", err
	}

	user, err := s.user(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	if !user.PasswordRecovery {
		return "", apperr.Invalid(msgResetNotRequested)
	}
	if password != confirm {
		return "", apperr.Invalid(msgPasswordMismatch)
	}

	hash, err := s.hash(password)
	if err != nil {
		return "", err
	}
	user.PasswordHash = hash
	user.PasswordRecovery = false
	user.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to reset password: %w", err)
	}
	return "Password reset successfully. You can now login", nil
}

// Login checks credentials and issues a session token
func (s *Service) Login(ctx context.Context, email, password string) (string, *Session, error) {
	user, err := s.user(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, apperr.Unauthenticated(msgBadCredentials)
	}
	if !user.Enabled {
		return "", nil, apperr.Invalid(msgNotVerified)
	}

	token, err := s.sign(user, audienceSession, s.sessionTTL)
	if err != nil {
		return "", nil, err
	}

	session := &Session{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Token:     token,
	}
	return fmt.Sprintf("Welcome back '%s'. You are now logged in", user.FirstName), session, nil
}

// ChangePassword replaces the password of the acting user
func (s *Service) ChangePassword(ctx context.Context, actorEmail, oldPassword, newPassword, confirm string) (string, error) {
	user, err := s.user(ctx, actorEmail)
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)) != nil {
		return "", apperr.Invalid(msgWrongOldPassword)
	}
	if newPassword != confirm {
		return "", apperr.Invalid(msgNewPasswordsDiffer)
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return "", err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to change password: %w", err)
	}
	return "Password changed successfully", nil
}

// Authenticate resolves a session token to the acting user's email
func (s *Service) Authenticate(token string) (string, error) {
	claims, err := s.parse(token, audienceSession)
	if errors.Is(err, errTokenExpired) {
		return "", apperr.Unauthenticated(msgSessionExpired)
	}
	if err != nil {
		return "", apperr.Unauthenticated(msgBadToken)
	}
	return claims.Subject, nil
}

func (s *Service) sendVerification(ctx context.Context, user *models.User) error {
	token, err := s.sign(user, audienceVerification, s.linkTTL)
	if err != nil {
		return err
	}
	msg, err := mail.VerificationMessage(user.Email, mail.LinkData{
		Name:   user.FirstName,
		Link:   s.baseURL + "/auth/email-confirmation/" + token,
		Expiry: s.linkTTL.String(),
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send verification mail: %w", err)
	}
	return nil
}

func (s *Service) parseLink(token, audience string) (*Claims, error) {
	claims, err := s.parse(token, audience)
	if errors.Is(err, errTokenExpired) {
		return nil, apperr.Invalid(msgLinkExpired)
	}
	if err != nil {
		return nil, apperr.Invalid(msgLinkMalformed)
	}
	return claims, nil
}

func (s *Service) user(ctx context.Context, email string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(msgUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
