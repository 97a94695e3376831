package api

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
	phonePattern  = regexp.MustCompile(`^[0-9]{10}$`)

	registerOnce sync.Once
)

// fieldMessages holds the client message for a failed "<json field>.<tag>"
var fieldMessages = map[string]string{
	"title.required":           "Title is required",
	"author.required":          "Author is required",
	"publicationYear.required": "Publication year is required",
	"publicationYear.gte":      "Publication year must be a positive number",
	"isbn.required":            "ISBN is required",
	"isbn.min":                 "ISBN must be between 10 and 13 characters",
	"isbn.max":                 "ISBN must be between 10 and 13 characters",
	"isbn.digits":              "ISBN must contain only digits",

	"firstName.required":    "firstName is required",
	"lastName.required":     "lastName is required",
	"emailAddress.required": "Email address is required",
	"emailAddress.email":    "Invalid email address format",
	"phoneNumber.phone":     "Phone number must be 10 digits",

	"password.required":        "Password is required",
	"password.min":             "Password must be at least 8 characters long",
	"password.password":        "Password must contain at least one uppercase letter, one special character, and one lowercase letter",
	"confirmPassword.required": "Confirm password is required",
	"oldPassword.required":     "Old password is required",
	"newPassword.required":     "New password is required",
	"newPassword.min":          "Password must be at least 8 characters long",
	"newPassword.password":     "Password must contain at least one uppercase letter, one special character, and one lowercase letter",
}

// registerValidators adds the custom tags to gin's validator and reports
// fields by their JSON names
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
			return digitsPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
			return strongPassword(fl.Field().String())
		})
	})
}

// strongPassword requires an upper case letter, a lower case letter and a
// character that is neither a letter nor a digit
func strongPassword(s string) bool {
	var upper, lower, special bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case !unicode.IsDigit(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	return upper && lower && special
}

// bindingMessage turns a bind error into the message shown to clients.
// Only the first failed field is reported.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Request body is not valid JSON"
	}

	fe := verrs[0]
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
