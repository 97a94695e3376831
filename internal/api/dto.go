package api

import (
	"time"

	"github.com/google/uuid"

	"libmanager/internal/auth"
	"libmanager/internal/catalog"
	"libmanager/internal/models"
	"libmanager/internal/patron"
)

type signupRequest struct {
	FirstName       string `json:"firstName" binding:"required"`
	LastName        string `json:"lastName" binding:"required"`
	Email           string `json:"emailAddress" binding:"required,email"`
	PhoneNumber     string `json:"phoneNumber" binding:"omitempty,phone"`
	Password        string `json:"password" binding:"required,min=8,password"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

func (r signupRequest) input() auth.SignupInput {
	return auth.SignupInput{
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Email:           r.Email,
		PhoneNumber:     r.PhoneNumber,
		Password:        r.Password,
		ConfirmPassword: r.ConfirmPassword,
	}
}

type loginRequest struct {
	Email    string `json:"emailAddress" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type resetPasswordRequest struct {
	Password        string `json:"password" binding:"required,min=8,password"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,password"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type bookRequest struct {
	Title           string `json:"title" binding:"required"`
	Author          string `json:"author" binding:"required"`
	PublicationYear int    `json:"publicationYear" binding:"required,gte=1"`
	ISBN            string `json:"isbn" binding:"required,min=10,max=13,digits"`
}

func (r bookRequest) input() catalog.BookInput {
	return catalog.BookInput{
		Title:           r.Title,
		Author:          r.Author,
		PublicationYear: r.PublicationYear,
		ISBN:            r.ISBN,
	}
}

type patronRequest struct {
	FirstName   string `json:"firstName" binding:"required"`
	LastName    string `json:"lastName" binding:"required"`
	Email       string `json:"emailAddress" binding:"required,email"`
	PhoneNumber string `json:"phoneNumber" binding:"omitempty,phone"`
}

func (r patronRequest) input() patron.Input {
	return patron.Input{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
	}
}

type sessionResponse struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"emailAddress"`
	Token     string `json:"token"`
}

type userResponse struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Email       string    `json:"emailAddress"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Role        string    `json:"role"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:          u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Role:        string(u.Role),
	}
}

type bookResponse struct {
	ID              uuid.UUID     `json:"id"`
	Title           string        `json:"title"`
	Author          string        `json:"author"`
	PublicationYear int           `json:"publicationYear"`
	ISBN            string        `json:"isbn"`
	Available       bool          `json:"available"`
	Borrower        *userResponse `json:"borrower,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func newBookResponse(b models.Book) bookResponse {
	return bookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		PublicationYear: b.PublicationYear,
		ISBN:            b.ISBN,
		Available:       b.Available,
		UpdatedAt:       b.UpdatedAt,
	}
}

func newBookDetailResponse(d catalog.BookDetail) bookResponse {
	resp := newBookResponse(d.Book)
	if d.Borrower != nil {
		borrower := newUserResponse(*d.Borrower)
		resp.Borrower = &borrower
	}
	return resp
}

func newBookList(books []models.Book) []bookResponse {
	out := make([]bookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, newBookResponse(b))
	}
	return out
}

type patronDetailResponse struct {
	userResponse
	BorrowedBooks []bookResponse `json:"borrowedBooks"`
}
