package auth

import (
	"context"
	"net/http"

	"github.com/getsentry/sentry-go"
)

type contextKey struct{}

func ContextWithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}

// Middleware rejects requests without a live session and stores the
// signed-in user in the request context.
func Middleware(sessions *SessionManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := sessions.RequireUser(w, r)
		if err != nil {
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if user == nil {
			w.Header().Set("Cache-Control", "no-store")
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), *user)))
	})
}
