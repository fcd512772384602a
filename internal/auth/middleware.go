package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/calliope-chat/calliope/internal/state"
)

type contextKey struct{}

// UserFromContext returns the authenticated user placed by RequireAuth.
func UserFromContext(ctx context.Context) (state.User, bool) {
	user, ok := ctx.Value(contextKey{}).(state.User)
	return user, ok
}

// RequireAuth rejects requests without a valid bearer token and attaches the
// resolved user to the request context.
func RequireAuth(tokens *Tokens, store *state.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, found := strings.CutPrefix(header, "Bearer ")
			if !found || raw == "" {
				unauthorized(w)
				return
			}
			username, err := tokens.Verify(raw)
			if err != nil {
				unauthorized(w)
				return
			}
			user, err := store.GetUserByUsername(r.Context(), username)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
