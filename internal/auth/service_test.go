package auth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"libmanager/internal/apperr"
	"libmanager/internal/mail"
	"libmanager/internal/models"
	"libmanager/internal/storage/stubs"
)

const secret = "test-secret"

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (o *outbox) Send(ctx context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

var linkToken = regexp.MustCompile(`/auth/(?:email-confirmation|password-reset)/([^"]+)"`)

// lastToken pulls the token out of the most recent mail
func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	m := linkToken.FindStringSubmatch(o.sent[len(o.sent)-1].Body)
	require.Len(t, m, 2)
	return m[1]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Service, *stubs.MockDB, *outbox, *clock) {
	t.Helper()
	db := stubs.NewMockDB()
	box := &outbox{}
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	s := NewService(db, box, Config{
		Secret:          secret,
		SessionTTL:      time.Hour,
		VerificationTTL: 15 * time.Minute,
		BaseURL:         "http://localhost:8080/",
	}, zap.NewNop(), WithClock(clk.now), WithBcryptCost(bcrypt.MinCost))
	return s, db, box, clk
}

func signupInput() SignupInput {
	return SignupInput{
		FirstName:       "Alice",
		LastName:        "Liddell",
		Email:           "alice@example.com",
		PhoneNumber:     "0123456789",
		Password:        "Secret#123",
		ConfirmPassword: "Secret#123",
	}
}

func TestSignup(t *testing.T) {
	s, db, box, _ := setup(t)
	ctx := context.Background()

	msg, err := s.Signup(ctx, signupInput())
	require.NoError(t, err)
	assert.Equal(t, "Welcome! 'Alice'. You have successfully signed up", msg)

	user, err := db.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RolePatron, user.Role)
	assert.False(t, user.Enabled)
	assert.NotEqual(t, "Secret#123", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("Secret#123")))

	require.Len(t, box.sent, 1)
	assert.Equal(t, "Verify your email address", box.sent[0].Subject)
	assert.Contains(t, box.sent[0].Body, `href="http://localhost:8080/auth/email-confirmation/`)
}

func TestSignup_Rejections(t *testing.T) {
	tests := []struct {
		description string
		input       func() SignupInput
		wantKind    apperr.Kind
		wantMessage string
	}{
		{
			description: "email already registered, ignoring case",
			input: func() SignupInput {
				in := signupInput()
				in.Email = "ALICE@example.com"
				return in
			},
			wantKind:    apperr.KindConflict,
			wantMessage: "Email Address already exists",
		},
		{
			description: "passwords differ",
			input: func() SignupInput {
				in := signupInput()
				in.Email = "other@example.com"
				in.ConfirmPassword = "Secret#124"
				return in
			},
			wantKind:    apperr.KindInvalid,
			wantMessage: "Provided passwords do not match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			s, _, box, _ := setup(t)
			_, err := s.Signup(context.Background(), signupInput())
			require.NoError(t, err)

			_, err = s.Signup(context.Background(), tt.input())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Equal(t, tt.wantMessage, apperr.MessageOf(err))
			assert.Len(t, box.sent, 1)
		})
	}
}

func TestSignup_MailFailureKeepsAccount(t *testing.T) {
	s, db, box, _ := setup(t)
	box.err = errors.New("relay down")

	_, err := s.Signup(context.Background(), signupInput())
	require.NoError(t, err)

	_, err = db.GetUserByEmail(context.Background(), "alice@example.com")
	assert.NoError(t, err)
}

func TestConfirmEmail(t *testing.T) {
	s, db, box, _ := setup(t)
	ctx := context.Background()

	_, err := s.Signup(ctx, signupInput())
	require.NoError(t, err)
	token := box.lastToken(t)

	msg, err := s.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Your email address is verified. You can now login", msg)

	user, err := db.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, user.Enabled)

	_, err = s.ConfirmEmail(ctx, token)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "Your email address is already verified", apperr.MessageOf(err))
}

func TestConfirmEmail_BadLinks(t *testing.T) {
	tests := []struct {
		description string
		token       func(t *testing.T, s *Service, box *outbox, clk *clock) string
		wantMessage string
	}{
		{
			description: "expired link",
			token: func(t *testing.T, s *Service, box *outbox, clk *clock) string {
				token := box.lastToken(t)
				clk.t = clk.t.Add(16 * time.Minute)
				return token
			},
			wantMessage: "Link has expired. Please request for a new link",
		},
		{
			description: "garbage",
			token: func(*testing.T, *Service, *outbox, *clock) string {
				return "not-a-jwt"
			},
			wantMessage: "Link is not properly formatted",
		},
		{
			description: "session token is not a verification link",
			token: func(t *testing.T, s *Service, box *outbox, clk *clock) string {
				token, err := s.sign(&models.User{Email: "alice@example.com"}, audienceSession, time.Hour)
				require.NoError(t, err)
				return token
			},
			wantMessage: "Link is not properly formatted",
		},
		{
			description: "signed with another key",
			token: func(t *testing.T, s *Service, box *outbox, clk *clock) string {
				claims := jwt.RegisteredClaims{
					Subject:   "alice@example.com",
					Audience:  jwt.ClaimStrings{audienceVerification},
					ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
				}
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
				require.NoError(t, err)
				return token
			},
			wantMessage: "Link is not properly formatted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			s, _, box, clk := setup(t)
			_, err := s.Signup(context.Background(), signupInput())
			require.NoError(t, err)

			_, err = s.ConfirmEmail(context.Background(), tt.token(t, s, box, clk))
			require.Error(t, err)
			assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
			assert.Equal(t, tt.wantMessage, apperr.MessageOf(err))
		})
	}
}

// verified signs up and confirms alice
func verified(t *testing.T, s *Service, box *outbox) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Signup(ctx, signupInput())
	require.NoError(t, err)
	_, err = s.ConfirmEmail(ctx, box.lastToken(t))
	require.NoError(t, err)
}

func TestLogin(t *testing.T) {
	s, _, box, clk := setup(t)
	ctx := context.Background()

	_, err := s.Signup(ctx, signupInput())
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "alice@example.com", "Secret#123")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	assert.Equal(t, "Email is not verified. Check your email for verification link", apperr.MessageOf(err))

	_, err = s.ConfirmEmail(ctx, box.lastToken(t))
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "alice@example.com", "wrong")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	assert.Equal(t, "Incorrect user details", apperr.MessageOf(err))

	_, _, err = s.Login(ctx, "ghost@example.com", "Secret#123")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "User not found", apperr.MessageOf(err))

	msg, session, err := s.Login(ctx, "alice@example.com", "Secret#123")
	require.NoError(t, err)
	assert.Equal(t, "Welcome back 'Alice'. You are now logged in", msg)
	assert.Equal(t, "Liddell", session.LastName)

	email, err := s.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	claims, err := s.parse(session.Token, audienceSession)
	require.NoError(t, err)
	assert.Equal(t, "Alice", claims.FirstName)
	assert.Equal(t, models.RolePatron, claims.Role)

	clk.t = clk.t.Add(2 * time.Hour)
	_, err = s.Authenticate(session.Token)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	assert.Equal(t, "Your session has expired. Please login", apperr.MessageOf(err))
}

func TestAuthenticate_RejectsLinks(t *testing.T) {
	s, _, box, _ := setup(t)
	_, err := s.Signup(context.Background(), signupInput())
	require.NoError(t, err)

	_, err = s.Authenticate(box.lastToken(t))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	assert.Equal(t, "Incorrect token", apperr.MessageOf(err))
}

func TestSendLink(t *testing.T) {
	s, _, box, _ := setup(t)
	ctx := context.Background()

	_, err := s.Signup(ctx, signupInput())
	require.NoError(t, err)

	msg, err := s.SendLink(ctx, "alice@example.com", LinkSignup)
	require.NoError(t, err)
	assert.Equal(t, "A new verification link has been sent to your email", msg)
	assert.Len(t, box.sent, 2)

	_, err = s.ConfirmEmail(ctx, box.lastToken(t))
	require.NoError(t, err)

	_, err = s.SendLink(ctx, "alice@example.com", LinkSignup)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = s.SendLink(ctx, "alice@example.com", LinkKind("BOGUS"))
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = s.SendLink(ctx, "ghost@example.com", LinkPasswordReset)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestResetPassword(t *testing.T) {
	s, db, box, _ := setup(t)
	ctx := context.Background()
	verified(t, s, box)

	// A verification link cannot reset a password
	_, err := s.Signup(ctx, SignupInput{Email: "bob@example.com", Password: "x", ConfirmPassword: "x"})
	require.NoError(t, err)
	_, err = s.ResetPassword(ctx, box.lastToken(t), "New#Secret1", "New#Secret1")
	assert.Equal(t, "Link is not properly formatted", apperr.MessageOf(err))

	msg, err := s.SendLink(ctx, "alice@example.com", LinkPasswordReset)
	require.NoError(t, err)
	assert.Equal(t, "A password reset link has been sent to your email", msg)
	assert.Equal(t, "Reset your password", box.sent[len(box.sent)-1].Subject)
	token := box.lastToken(t)

	user, err := db.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, user.PasswordRecovery)

	_, err = s.ResetPassword(ctx, token, "New#Secret1", "New#Secret2")
	assert.Equal(t, "Provided passwords do not match", apperr.MessageOf(err))

	msg, err = s.ResetPassword(ctx, token, "New#Secret1", "New#Secret1")
	require.NoError(t, err)
	assert.Equal(t, "Password reset successfully. You can now login", msg)

	_, err = s.ResetPassword(ctx, token, "Again#Secret1", "Again#Secret1")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err), "the link is single use")

	_, _, err = s.Login(ctx, "alice@example.com", "New#Secret1")
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	s, _, box, _ := setup(t)
	ctx := context.Background()
	verified(t, s, box)

	_, err := s.ChangePassword(ctx, "alice@example.com", "wrong", "New#Secret1", "New#Secret1")
	assert.Equal(t, "Incorrect old password", apperr.MessageOf(err))

	_, err = s.ChangePassword(ctx, "alice@example.com", "Secret#123", "New#Secret1", "New#Secret2")
	assert.Equal(t, "New passwords do not match", apperr.MessageOf(err))

	msg, err := s.ChangePassword(ctx, "alice@example.com", "Secret#123", "New#Secret1", "New#Secret1")
	require.NoError(t, err)
	assert.Equal(t, "Password changed successfully", msg)

	_, _, err = s.Login(ctx, "alice@example.com", "Secret#123")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	_, _, err = s.Login(ctx, "alice@example.com", "New#Secret1")
	assert.NoError(t, err)
}
