// Package api exposes the library over HTTP with gin.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"libmanager/internal/auth"
	"libmanager/internal/bot"
	"libmanager/internal/catalog"
	"libmanager/internal/lending"
	"libmanager/internal/metrics"
	"libmanager/internal/models"
	"libmanager/internal/patron"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Deps are the services behind the HTTP surface. Metrics may be nil.
type Deps struct {
	Auth        *auth.Service
	Catalog     *catalog.Service
	Patrons     *patron.Service
	Lending     *lending.Service
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	CORSOrigins []string

	// Webhook receives Telegram updates; nil outside webhook mode
	Webhook http.Handler
}

// Server holds the handlers
type Server struct {
	auth    *auth.Service
	catalog *catalog.Service
	patrons *patron.Service
	lending *lending.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(deps Deps) *gin.Engine {
	registerValidators()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		auth:    deps.Auth,
		catalog: deps.Catalog,
		patrons: deps.Patrons,
		lending: deps.Lending,
		metrics: deps.Metrics,
		logger:  logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.instrument())
	if len(deps.CORSOrigins) > 0 {
		r.Use(corsMiddleware(deps.CORSOrigins))
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.Webhook != nil {
		r.POST(bot.WebhookPath, gin.WrapH(deps.Webhook))
	}

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/user", s.signup)
		authGroup.POST("/login", s.login)
		authGroup.GET("/email-confirmation/:token", s.confirmEmail)
		authGroup.GET("/verification-link", s.sendLink)
		authGroup.POST("/password-reset/:token", s.resetPassword)
		authGroup.POST("/logout", s.requireAuth(), s.logout)
	}

	r.POST("/user/password-change", s.requireAuth(), s.changePassword)

	apiGroup := r.Group("/api", s.requireAuth())
	{
		apiGroup.POST("/books", s.addBook)
		apiGroup.GET("/books", s.listBooks)
		apiGroup.GET("/books/:id", s.bookDetail)
		apiGroup.PUT("/books/:id", s.updateBook)
		apiGroup.DELETE("/books/:id", s.removeBook)

		apiGroup.GET("/patrons", s.listPatrons)
		apiGroup.GET("/patrons/:id", s.patronDetail)
		apiGroup.PUT("/patrons/:id", s.updatePatron)
		apiGroup.DELETE("/patrons/:id", s.removePatron)

		apiGroup.POST("/borrow/:bookId/:patronId", s.borrow)
		apiGroup.PUT("/return/:bookId/:patronId", s.giveBack)
		apiGroup.GET("/borrowed", s.borrowed)
	}

	return r
}

// pageOf reads ?page= and ?size=. Missing values take the defaults and
// sizes above the cap are clamped.
func pageOf(c *gin.Context) (models.Page, bool) {
	page := models.Page{Size: defaultPageSize}

	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, false
		}
		page.Number = n
	}
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return page, false
		}
		page.Size = min(n, maxPageSize)
	}
	return page, true
}
