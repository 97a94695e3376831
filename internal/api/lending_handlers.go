package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"libmanager/internal/apperr"
	"libmanager/internal/lending"
	"libmanager/internal/metrics"
	"libmanager/internal/models"
)

// outcomeOf labels a lending result for metrics
func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return metrics.OutcomeNotFound
	case apperr.KindForbidden:
		return metrics.OutcomeForbidden
	case apperr.KindConflict, apperr.KindInvalid:
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}

func (s *Server) borrow(c *gin.Context) {
	s.transition(c, models.ActionBorrow, s.lending.Borrow)
}

func (s *Server) giveBack(c *gin.Context) {
	s.transition(c, models.ActionReturn, s.lending.Return)
}

type transitionFunc func(ctx context.Context, actorEmail string, bookID, patronID uuid.UUID) (*lending.Result, error)

// transition runs a borrow or return for the :bookId/:patronId pair
func (s *Server) transition(c *gin.Context, action models.LendingAction, run transitionFunc) {
	bookID, ok := s.idParam(c, "bookId")
	if !ok {
		return
	}
	patronID, ok := s.idParam(c, "patronId")
	if !ok {
		return
	}

	result, err := run(c.Request.Context(), actor(c), bookID, patronID)
	s.metrics.RecordLending(string(action), outcomeOf(err))
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, result.Message, newBookResponse(result.Book))
}

func (s *Server) borrowed(c *gin.Context) {
	books, err := s.lending.BorrowedBy(c.Request.Context(), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Borrowed books", newBookList(books))
}
