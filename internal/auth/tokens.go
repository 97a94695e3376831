package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"libmanager/internal/models"
)

// Token audiences keep session tokens and emailed links from being used
// in each other's place.
const (
	audienceSession       = "session"
	audienceVerification  = "email-verification"
	audiencePasswordReset = "password-reset"
)

var errTokenExpired = errors.New("token expired")

// Claims is the payload of a session token. The subject is the email.
type Claims struct {
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (s *Service) sign(user *models.User, audience string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience == audienceSession {
		claims.Role = user.Role
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// parse validates signature, audience and expiry. Expired tokens yield
// errTokenExpired; everything else is reported as malformed by callers.
func (s *Service) parse(raw, audience string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, errTokenExpired
	}
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
