package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

const testSecret = "test-secret-key-for-unit-tests-0123456789"

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()

	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)

	s, err := NewAuthService(testSecret, hash)
	require.NoError(t, err)

	return s
}

func TestIssueAndValidateToken(t *testing.T) {
	t.Parallel()

	s := newTestAuthService(t)
	require.True(t, s.Enabled())

	token, expires, err := s.IssueToken("correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), expires, time.Minute)

	assert.NoError(t, s.ValidateToken(token))
}

func TestIssueTokenWrongPassword(t *testing.T) {
	t.Parallel()

	s := newTestAuthService(t)

	_, _, err := s.IssueToken("battery staple")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestValidateTokenRejects(t *testing.T) {
	t.Parallel()

	s := newTestAuthService(t)

	token, _, err := s.IssueToken("correct horse")
	require.NoError(t, err)

	other, err := NewAuthService("another-secret-key-for-unit-tests-9876543210", "")
	require.NoError(t, err)

	expired := newTestAuthService(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * tokenTTL) }
	old, _, err := expired.IssueToken("correct horse")
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		s     *AuthService
		token string
	}{
		"Garbage":     {s: s, token: "not-a-token"},
		"OtherSecret": {s: other, token: token},
		"Expired":     {s: s, token: old},
		"Empty":       {s: s, token: ""},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.ErrorIs(t, tc.s.ValidateToken(tc.token), domain.ErrUnauthorized)
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	t.Parallel()

	s, err := NewAuthService("", "")
	require.NoError(t, err)

	assert.False(t, s.Enabled())
	assert.NoError(t, s.ValidateToken(""))

	_, _, err = s.IssueToken("anything")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestNewAuthServiceInvalid(t *testing.T) {
	t.Parallel()

	_, err := NewAuthService("short", "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewAuthService(testSecret, "not-a-bcrypt-hash")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = HashPassword("", bcrypt.MinCost)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
