package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"libmanager/internal/apperr"
)

// envelope is the body of every API response
type envelope struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Message: message, StatusCode: status, Data: data})
}

// statusOf maps an error kind to its HTTP status
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an error envelope. Internal errors are logged with
// their cause and reported with a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)

	if kind == apperr.KindInternal {
		s.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	} else {
		s.logger.Info("Request rejected",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("kind", kind.String()),
			zap.String("reason", apperr.MessageOf(err)))
	}

	c.AbortWithStatusJSON(status, envelope{Message: apperr.MessageOf(err), StatusCode: status})
}

// badRequest reports a malformed request without going through the services
func (s *Server) badRequest(c *gin.Context, message string) {
	s.fail(c, apperr.Invalid(message))
}
