package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"libmanager/internal/auth"
	"libmanager/internal/catalog"
	"libmanager/internal/lending"
	"libmanager/internal/mail"
	"libmanager/internal/metrics"
	"libmanager/internal/models"
	"libmanager/internal/patron"
	"libmanager/internal/storage/stubs"
)

const (
	adminEmail  = "ada@example.com"
	aliceEmail  = "alice@example.com"
	bobEmail    = "bob@example.com"
	password    = "Secret#123"
	duneISBN    = "9780441013593"
	bookPayload = `{"title":"Dune","author":"Frank Herbert","publicationYear":1965,"isbn":"9780441013593"}`
)

type response struct {
	Message    string          `json:"message"`
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
}

type fixture struct {
	router  *gin.Engine
	db      *stubs.MockDB
	metrics *metrics.Metrics
	users   map[string]uuid.UUID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db := stubs.NewMockDB()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{db: db, metrics: metrics.New(), users: map[string]uuid.UUID{}}
	for email, role := range map[string]models.Role{
		adminEmail: models.RoleAdmin,
		aliceEmail: models.RolePatron,
		bobEmail:   models.RolePatron,
	} {
		user := &models.User{FirstName: "Test", Email: email, PasswordHash: string(hash), Role: role, Enabled: true}
		require.NoError(t, db.CreateUser(ctx, user))
		f.users[email] = user.ID
	}

	logger := zap.NewNop()
	authSvc := auth.NewService(db, mail.NewLogSender(logger), auth.Config{Secret: "test-secret"}, logger,
		auth.WithBcryptCost(bcrypt.MinCost))
	books := catalog.NewService(db, 16, 0, f.metrics)

	f.router = NewRouter(Deps{
		Auth:    authSvc,
		Catalog: books,
		Patrons: patron.NewService(db, patron.WithChangeHook(func(uuid.UUID) { books.InvalidateAll() })),
		Lending: lending.NewService(db, lending.WithListener(books)),
		Metrics: f.metrics,
		Logger:  logger,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (int, response) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var resp response
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, rec.Code, resp.StatusCode)
	}
	return rec.Code, resp
}

func (f *fixture) login(t *testing.T, email string) string {
	t.Helper()
	status, resp := f.do(t, http.MethodPost, "/auth/login", "",
		`{"emailAddress":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, status, resp.Message)

	var session sessionResponse
	require.NoError(t, json.Unmarshal(resp.Data, &session))
	require.NotEmpty(t, session.Token)
	return session.Token
}

func (f *fixture) addBook(t *testing.T, adminToken string) uuid.UUID {
	t.Helper()
	status, resp := f.do(t, http.MethodPost, "/api/books", adminToken, bookPayload)
	require.Equal(t, http.StatusCreated, status, resp.Message)

	var book bookResponse
	require.NoError(t, json.Unmarshal(resp.Data, &book))
	return book.ID
}

func TestHealth(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRequireAuth(t *testing.T) {
	f := setup(t)

	tests := []struct {
		description string
		header      string
		wantMessage string
	}{
		{description: "missing header", wantMessage: "Authorization header is missing"},
		{description: "not a bearer token", header: "Basic abc", wantMessage: "Invalid authorization format"},
		{description: "garbage token", header: "Bearer not-a-jwt", wantMessage: "Incorrect token"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var resp response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantMessage, resp.Message)
		})
	}
}

func TestSignupValidation(t *testing.T) {
	f := setup(t)

	tests := []struct {
		description string
		body        string
		wantStatus  int
		wantMessage string
	}{
		{
			description: "missing first name",
			body:        `{"lastName":"L","emailAddress":"new@example.com","password":"Secret#123","confirmPassword":"Secret#123"}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "firstName is required",
		},
		{
			description: "bad email",
			body:        `{"firstName":"N","lastName":"L","emailAddress":"nope","password":"Secret#123","confirmPassword":"Secret#123"}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid email address format",
		},
		{
			description: "short phone number",
			body:        `{"firstName":"N","lastName":"L","emailAddress":"new@example.com","phoneNumber":"123","password":"Secret#123","confirmPassword":"Secret#123"}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Phone number must be 10 digits",
		},
		{
			description: "short password",
			body:        `{"firstName":"N","lastName":"L","emailAddress":"new@example.com","password":"Se#1","confirmPassword":"Se#1"}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Password must be at least 8 characters long",
		},
		{
			description: "weak password",
			body:        `{"firstName":"N","lastName":"L","emailAddress":"new@example.com","password":"secret123","confirmPassword":"secret123"}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Password must contain at least one uppercase letter, one special character, and one lowercase letter",
		},
		{
			description: "malformed json",
			body:        `{"firstName":`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Request body is not valid JSON",
		},
		{
			description: "existing email",
			body:        `{"firstName":"N","lastName":"L","emailAddress":"alice@example.com","password":"Secret#123","confirmPassword":"Secret#123"}`,
			wantStatus:  http.StatusConflict,
			wantMessage: "Email Address already exists",
		},
		{
			description: "new patron",
			body:        `{"firstName":"Nina","lastName":"L","emailAddress":"nina@example.com","phoneNumber":"0123456789","password":"Secret#123","confirmPassword":"Secret#123"}`,
			wantStatus:  http.StatusCreated,
			wantMessage: "Welcome! 'Nina'. You have successfully signed up",
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			status, resp := f.do(t, http.MethodPost, "/auth/user", "", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMessage, resp.Message)
		})
	}
}

func TestLoginUnverified(t *testing.T) {
	f := setup(t)

	status, _ := f.do(t, http.MethodPost, "/auth/user", "",
		`{"firstName":"Nina","lastName":"L","emailAddress":"nina@example.com","password":"Secret#123","confirmPassword":"Secret#123"}`)
	require.Equal(t, http.StatusCreated, status)

	status, resp := f.do(t, http.MethodPost, "/auth/login", "", `{"emailAddress":"nina@example.com","password":"Secret#123"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email is not verified. Check your email for verification link", resp.Message)

	status, resp = f.do(t, http.MethodPost, "/auth/login", "", `{"emailAddress":"nina@example.com","password":"Wrong#123"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Incorrect user details", resp.Message)
}

func TestBookValidation(t *testing.T) {
	f := setup(t)
	admin := f.login(t, adminEmail)

	tests := []struct {
		description string
		body        string
		wantMessage string
	}{
		{
			description: "missing title",
			body:        `{"author":"A","publicationYear":1965,"isbn":"9780441013593"}`,
			wantMessage: "Title is required",
		},
		{
			description: "missing year",
			body:        `{"title":"T","author":"A","isbn":"9780441013593"}`,
			wantMessage: "Publication year is required",
		},
		{
			description: "short isbn",
			body:        `{"title":"T","author":"A","publicationYear":1965,"isbn":"12345"}`,
			wantMessage: "ISBN must be between 10 and 13 characters",
		},
		{
			description: "isbn with letters",
			body:        `{"title":"T","author":"A","publicationYear":1965,"isbn":"97804410135X"}`,
			wantMessage: "ISBN must contain only digits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			status, resp := f.do(t, http.MethodPost, "/api/books", admin, tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.wantMessage, resp.Message)
		})
	}
}

func TestCatalogRoutes(t *testing.T) {
	f := setup(t)
	admin := f.login(t, adminEmail)
	alice := f.login(t, aliceEmail)

	status, resp := f.do(t, http.MethodPost, "/api/books", alice, bookPayload)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "You are not authorized to do this", resp.Message)

	bookID := f.addBook(t, admin)

	status, resp = f.do(t, http.MethodPost, "/api/books", admin, bookPayload)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "A book with this title already exists", resp.Message)

	status, resp = f.do(t, http.MethodGet, "/api/books?q=herbert", alice, "")
	require.Equal(t, http.StatusOK, status)
	var books []bookResponse
	require.NoError(t, json.Unmarshal(resp.Data, &books))
	require.Len(t, books, 1)
	assert.Equal(t, duneISBN, books[0].ISBN)

	status, resp = f.do(t, http.MethodGet, "/api/books/"+bookID.String(), alice, "")
	require.Equal(t, http.StatusOK, status)
	var detail bookResponse
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.True(t, detail.Available)
	assert.Nil(t, detail.Borrower)

	status, resp = f.do(t, http.MethodPut, "/api/books/"+bookID.String(), admin,
		`{"title":"Dune Messiah","author":"Frank Herbert","publicationYear":1969,"isbn":"9780593098233"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Book information is successfully updated", resp.Message)

	status, resp = f.do(t, http.MethodGet, "/api/books/"+uuid.NewString(), alice, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "book not found", resp.Message)

	status, resp = f.do(t, http.MethodGet, "/api/books/not-a-uuid", alice, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid id", resp.Message)

	status, resp = f.do(t, http.MethodDelete, "/api/books/"+bookID.String(), admin, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "'Dune Messiah' by Frank Herbert has been removed", resp.Message)
}

func TestPagination(t *testing.T) {
	f := setup(t)
	alice := f.login(t, aliceEmail)

	tests := []struct {
		description string
		query       string
		wantStatus  int
	}{
		{description: "defaults", query: "", wantStatus: http.StatusOK},
		{description: "explicit page", query: "?page=1&size=5", wantStatus: http.StatusOK},
		{description: "oversized page is clamped", query: "?size=1000", wantStatus: http.StatusOK},
		{description: "negative page", query: "?page=-1", wantStatus: http.StatusBadRequest},
		{description: "zero size", query: "?size=0", wantStatus: http.StatusBadRequest},
		{description: "non-numeric size", query: "?size=ten", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			status, _ := f.do(t, http.MethodGet, "/api/patrons"+tt.query, alice, "")
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestLendingRoutes(t *testing.T) {
	f := setup(t)
	admin := f.login(t, adminEmail)
	alice := f.login(t, aliceEmail)
	bob := f.login(t, bobEmail)

	bookID := f.addBook(t, admin)
	aliceID := f.users[aliceEmail].String()
	bobID := f.users[bobEmail].String()
	path := func(action, patronID string) string {
		return "/api/" + action + "/" + bookID.String() + "/" + patronID
	}

	status, resp := f.do(t, http.MethodPost, path("borrow", aliceID), alice, "")
	require.Equal(t, http.StatusOK, status, resp.Message)
	assert.Equal(t, "You have now borrowed 'Dune' by 'Frank Herbert'", resp.Message)

	status, resp = f.do(t, http.MethodGet, "/api/books/"+bookID.String(), bob, "")
	require.Equal(t, http.StatusOK, status)
	var detail bookResponse
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.False(t, detail.Available)
	require.NotNil(t, detail.Borrower)
	assert.Equal(t, aliceEmail, detail.Borrower.Email)

	status, _ = f.do(t, http.MethodPost, path("borrow", bobID), bob, "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, path("borrow", aliceID), bob, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = f.do(t, http.MethodGet, "/api/borrowed", alice, "")
	require.Equal(t, http.StatusOK, status)
	var borrowed []bookResponse
	require.NoError(t, json.Unmarshal(resp.Data, &borrowed))
	require.Len(t, borrowed, 1)
	assert.Equal(t, bookID, borrowed[0].ID)

	status, resp = f.do(t, http.MethodDelete, "/api/books/"+bookID.String(), admin, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "This book is currently borrowed", resp.Message)

	status, resp = f.do(t, http.MethodPut, path("return", aliceID), alice, "")
	require.Equal(t, http.StatusOK, status, resp.Message)
	assert.Equal(t, "You have successfully returned 'Dune' by 'Frank Herbert'", resp.Message)

	status, _ = f.do(t, http.MethodPut, path("return", aliceID), alice, "")
	assert.Equal(t, http.StatusConflict, status)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LendingTransitions.WithLabelValues("borrow", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LendingTransitions.WithLabelValues("borrow", metrics.OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LendingTransitions.WithLabelValues("borrow", metrics.OutcomeForbidden)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LendingTransitions.WithLabelValues("return", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LendingTransitions.WithLabelValues("return", metrics.OutcomeConflict)))
}

func TestPatronRoutes(t *testing.T) {
	f := setup(t)
	admin := f.login(t, adminEmail)
	alice := f.login(t, aliceEmail)
	bob := f.login(t, bobEmail)

	bookID := f.addBook(t, admin)
	aliceID := f.users[aliceEmail].String()
	status, _ := f.do(t, http.MethodPost, "/api/borrow/"+bookID.String()+"/"+aliceID, alice, "")
	require.Equal(t, http.StatusOK, status)

	status, resp := f.do(t, http.MethodGet, "/api/patrons/"+aliceID, bob, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "You are not authorized to view this information", resp.Message)

	status, resp = f.do(t, http.MethodGet, "/api/patrons/"+aliceID, admin, "")
	require.Equal(t, http.StatusOK, status)
	var detail patronDetailResponse
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, aliceEmail, detail.Email)
	require.Len(t, detail.BorrowedBooks, 1)
	assert.Equal(t, bookID, detail.BorrowedBooks[0].ID)

	// Cached book detail must pick up the borrower's new name
	status, _ = f.do(t, http.MethodGet, "/api/books/"+bookID.String(), alice, "")
	require.Equal(t, http.StatusOK, status)
	status, resp = f.do(t, http.MethodPut, "/api/patrons/"+aliceID, alice,
		`{"firstName":"Alicia","lastName":"Liddell","emailAddress":"alice@example.com","phoneNumber":"0123456789"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Your details are successfully updated", resp.Message)

	status, resp = f.do(t, http.MethodGet, "/api/books/"+bookID.String(), bob, "")
	require.Equal(t, http.StatusOK, status)
	var book bookResponse
	require.NoError(t, json.Unmarshal(resp.Data, &book))
	require.NotNil(t, book.Borrower)
	assert.Equal(t, "Alicia", book.Borrower.FirstName)

	status, resp = f.do(t, http.MethodPut, "/api/patrons/"+aliceID, alice,
		`{"firstName":"Alicia","lastName":"Liddell","emailAddress":"bob@example.com"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Email Address already exists", resp.Message)

	status, resp = f.do(t, http.MethodDelete, "/api/patrons/"+aliceID, admin, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Patron still has borrowed books", resp.Message)

	status, resp = f.do(t, http.MethodDelete, "/api/patrons/"+f.users[bobEmail].String(), bob, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "You have been removed", resp.Message)
}

func TestChangePasswordAndLogout(t *testing.T) {
	f := setup(t)
	alice := f.login(t, aliceEmail)

	status, resp := f.do(t, http.MethodPost, "/user/password-change", alice,
		`{"oldPassword":"Wrong#123","newPassword":"Better#456","confirmPassword":"Better#456"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Incorrect old password", resp.Message)

	status, _ = f.do(t, http.MethodPost, "/user/password-change", alice,
		`{"oldPassword":"Secret#123","newPassword":"Better#456","confirmPassword":"Better#456"}`)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/auth/login", "", `{"emailAddress":"alice@example.com","password":"Better#456"}`)
	assert.Equal(t, http.StatusOK, status)

	status, resp = f.do(t, http.MethodPost, "/auth/logout", alice, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "You have been logged out", resp.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)

	f.do(t, http.MethodGet, "/api/books", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/books"`)
}

func TestTelegramWebhookRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var received string
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.WriteHeader(http.StatusOK)
	})
	router := NewRouter(Deps{Logger: zap.NewNop(), Webhook: webhook})

	req := httptest.NewRequest(http.MethodPost, "/telegram-webhook", bytes.NewBufferString(`{"update_id":7}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"update_id":7}`, received)

	// Polling mode mounts nothing
	f := setup(t)
	req = httptest.NewRequest(http.MethodPost, "/telegram-webhook", bytes.NewBufferString(`{"update_id":7}`))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
