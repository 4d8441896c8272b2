package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/deepsense/sandboxd/internal/apperror"
	"github.com/deepsense/sandboxd/internal/auth"
)

// TokenIssuer is the credential-exchange slice of the auth service.
type TokenIssuer interface {
	IssueToken(ctx context.Context, keyID, secret string) (string, error)
}

// TokenHandler exchanges API-key credentials for bearer tokens.
type TokenHandler struct {
	issuer TokenIssuer
	logger *slog.Logger
}

func NewTokenHandler(issuer TokenIssuer, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{issuer: issuer, logger: logger}
}

type tokenRequest struct {
	KeyID  string `json:"key_id"`
	Secret string `json:"secret"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// HandleToken processes POST /auth/token.
func (h *TokenHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "request body is not valid JSON"))
		return
	}
	if req.KeyID == "" || req.Secret == "" {
		writeError(w, apperror.ValidationFailed("key_id", "key_id and secret are required"))
		return
	}

	token, err := h.issuer.IssueToken(r.Context(), req.KeyID, req.Secret)
	if err != nil {
		h.logger.Warn("token exchange rejected", slog.String("key_id", req.KeyID))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int(auth.TokenTTL.Seconds()),
	})
}
