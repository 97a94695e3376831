package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgBadPage = "page must be zero or more and size must be positive"

// idParam parses a UUID path parameter, writing a 400 when it is malformed
func (s *Server) idParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.badRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) addBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, bindingMessage(err))
		return
	}

	msg, book, err := s.catalog.AddBook(c.Request.Context(), actor(c), req.input())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, msg, newBookResponse(*book))
}

// listBooks lists available books, filtered by ?q= when present
func (s *Server) listBooks(c *gin.Context) {
	page, ok := pageOf(c)
	if !ok {
		s.badRequest(c, msgBadPage)
		return
	}

	books, err := s.catalog.Search(c.Request.Context(), actor(c), c.Query("q"), page)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Available books", newBookList(books))
}

func (s *Server) bookDetail(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}

	detail, err := s.catalog.Detail(c.Request.Context(), actor(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Book details", newBookDetailResponse(*detail))
}

func (s *Server) updateBook(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, bindingMessage(err))
		return
	}

	msg, err := s.catalog.Update(c.Request.Context(), actor(c), id, req.input())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}

func (s *Server) removeBook(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}

	msg, err := s.catalog.Remove(c.Request.Context(), actor(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}
