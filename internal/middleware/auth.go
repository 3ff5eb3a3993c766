package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/store"
)

// RequireAuth validates the bearer token and populates AuthContext. A token
// for a user that no longer exists is rejected.
func RequireAuth(tokens *auth.Tokens, users *store.UserStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			ac, err := tokens.Parse(raw)
			if err != nil {
				unauthorized(w)
				return
			}
			u, err := users.GetByID(r.Context(), ac.UserID)
			if err != nil {
				logger.Error("load token user", "user_id", ac.UserID, "error", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "unable to process request")
				return
			}
			if u == nil {
				unauthorized(w)
				return
			}
			ac.Email = u.Email

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="babylog"`)
	writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid bearer token")
}
