package middleware

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
)

type contextKey string

const userContextKey contextKey = "user_email"

// UserHeader carries the signed-in user's email, set by the auth proxy in
// front of the API.
const UserHeader = "X-Auth-Request-Email"

// RequireUser rejects requests without a valid user email header and
// stores the email on the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.Header.Get(UserHeader))
		if email == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if _, err := mail.ParseAddress(email); err != nil {
			http.Error(w, "invalid user email", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserEmail returns the email stored by RequireUser.
func UserEmail(ctx context.Context) string {
	email, _ := ctx.Value(userContextKey).(string)
	return email
}

// WithUserEmail returns a context carrying email, as RequireUser would.
func WithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userContextKey, email)
}
