// internal/auth/jwt.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer = "firelite"

	// DefaultTokenTTL is used by the token command when no ttl is given.
	DefaultTokenTTL = time.Hour
)

// ErrMissingSubject is returned for tokens without a user id.
var ErrMissingSubject = errors.New("token missing sub claim")

// Service signs and verifies HS256 access tokens. The sub claim carries the
// user id.
type Service struct {
	jwtSecret string
}

func NewService(jwtSecret string) *Service {
	return &Service{jwtSecret: jwtSecret}
}

// GenerateAccessToken issues a token for userID. A zero ttl produces a token
// without expiry.
func (s *Service) GenerateAccessToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrMissingSubject
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"aud": "authenticated",
		"iat": now.Unix(),
		"iss": Issuer,
		"sub": userID,
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateAccessToken(tokenString string) (*jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return &claims, nil
}

// VerifyToken validates the token and returns its subject.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}
