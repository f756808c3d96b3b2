package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

const (
	// adminSubject is the subject of every issued token.
	adminSubject = "admin"

	tokenTTL = 12 * time.Hour

	// MinSecretLength is the minimal length of the token signing secret.
	MinSecretLength = 32
)

// AuthService issues and checks the bearer tokens that guard write requests.
// There is a single administrator identified by a bcrypt password hash.
type AuthService struct {
	secret    []byte
	adminHash []byte
	now       func() time.Time
}

// NewAuthService creates a new AuthService.
// An empty secret disables authentication.
func NewAuthService(secret, adminPasswordHash string) (*AuthService, error) {
	if secret != "" && len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: auth secret must be at least %d characters", domain.ErrConfiguration, MinSecretLength)
	}

	if adminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(adminPasswordHash)); err != nil {
			return nil, fmt.Errorf("%w: admin password hash: %w", domain.ErrConfiguration, err)
		}
	}

	return &AuthService{
		secret:    []byte(secret),
		adminHash: []byte(adminPasswordHash),
		now:       time.Now,
	}, nil
}

// Enabled reports whether write requests require a token.
func (s *AuthService) Enabled() bool {
	return len(s.secret) > 0
}

// IssueToken checks the administrator password and returns a signed token
// with its expiry time.
func (s *AuthService) IssueToken(password string) (string, time.Time, error) {
	if !s.Enabled() || len(s.adminHash) == 0 {
		return "", time.Time{}, domain.ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		return "", time.Time{}, domain.ErrUnauthorized
	}

	now := s.now()
	expires := now.Add(tokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return token, expires, nil
}

// ValidateToken parses and validates a token issued by IssueToken.
func (s *AuthService) ValidateToken(tokenString string) error {
	if !s.Enabled() {
		return nil
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(adminSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return errors.Join(domain.ErrUnauthorized, err)
	}

	return nil
}

// HashPassword returns the bcrypt hash to configure as the admin password hash.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: empty password", domain.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}
