package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/service"
)

// AuthHandler issues bearer tokens for write requests.
type AuthHandler struct {
	auth *service.AuthService
	l    *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, l *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth: auth,
		l:    l,
	}
}

// HandleToken handles POST /auth/token.
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, h.l, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, expires, err := h.auth.IssueToken(req.Password)
	if err != nil {
		h.l.Info("Token refused.", zap.String("remote", clientIP(r)))
		writeDomainError(w, r, h.l, err)
		return
	}

	writeJSON(w, h.l, http.StatusOK, TokenDTO{
		Token:     token,
		ExpiresAt: expires.UTC().Format(time.RFC3339),
	})
}
