package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const keyIDContextKey contextKey = "auth.keyID"

// KeyIDFromContext returns the API-key id the request authenticated as,
// or "" when the request did not pass through RequireAuth.
func KeyIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(keyIDContextKey).(string)
	return id
}

// RequireAuth rejects requests that do not carry a valid bearer token.
// On success the API-key id is stored in the request context for
// downstream handlers and audit logging.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w)
				return
			}

			keyID, err := tokens.Validate(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), keyIDContextKey, keyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sandboxd"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
