package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"libmanager/internal/auth"
)

func (s *Server) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, bindingMessage(err))
		return
	}

	msg, err := s.auth.Signup(c.Request.Context(), req.input())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, msg, auth.SignupNotice)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, bindingMessage(err))
		return
	}

	msg, session, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, sessionResponse{
		FirstName: session.FirstName,
		LastName:  session.LastName,
		Email:     session.Email,
		Token:     session.Token,
	})
}

func (s *Server) confirmEmail(c *gin.Context) {
	msg, err := s.auth.ConfirmEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}

func (s *Server) sendLink(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		s.badRequest(c, "Email address is required")
		return
	}

	msg, err := s.auth.SendLink(c.Request.Context(), email, auth.LinkKind(c.Query("type")))
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}

func (s *Server) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, bindingMessage(err))
		return
	}

	msg, err := s.auth.ResetPassword(c.Request.Context(), c.Param("token"), req.Password, req.ConfirmPassword)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}

// logout is stateless; clients drop the token
func (s *Server) logout(c *gin.Context) {
	respond(c, http.StatusOK, "You have been logged out", nil)
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, bindingMessage(err))
		return
	}

	msg, err := s.auth.ChangePassword(c.Request.Context(), actor(c), req.OldPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg, nil)
}
