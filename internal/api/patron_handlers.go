package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listPatrons(c *gin.Context) {
	page, ok := pageOf(c)
	if !ok {
		s.badRequest(c, msgBadPage)
		return
	}

	users, err := s.patrons.List(c.Request.Context(), actor(c), page)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	respond(c, http.StatusOK, "Patrons", out)
}

func (s *Server) patronDetail(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}

	detail, err := s.patrons.Detail(c.Request.Context(), actor(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Patron details", patronDetailResponse{
		userResponse:  newUserResponse(detail.User),
		BorrowedBooks: newBookList(detail.Borrowed),
	})
}

func (s *Server) updatePatron(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	var req patronRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, bindingMessage(err))
		return
	}

	msg, err := s.patrons.Update(c.Request.Context(), actor(c), id, req.input())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}

func (s *Server) removePatron(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}

	msg, err := s.patrons.Remove(c.Request.Context(), actor(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}
