package middleware

import (
	"context"
	"net/http"

	"scriptgate/internal/security"
)

// HeaderUserID carries the caller identity.
const HeaderUserID = "X-User-ID"

// QueryUserID is the query parameter fallback for HeaderUserID.
const QueryUserID = "user_id"

type userIDKey struct{}

// Identity resolves the caller identity from the X-User-ID header, falling
// back to the user_id query parameter, and stores it in the context. A
// missing identity is not rejected here; handlers decide. Malformed
// identities are treated as missing.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderUserID)
		if raw == "" {
			raw = r.URL.Query().Get(QueryUserID)
		}

		if id, err := security.CleanUserID(raw); err == nil && id != "" {
			r = r.WithContext(WithUserID(r.Context(), id))
		}

		next.ServeHTTP(w, r)
	})
}

// WithUserID stores an identity in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the identity resolved by Identity, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
