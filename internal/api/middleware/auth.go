// Package middleware carries the HTTP middlewares shared by the API routes.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/auth"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(ctx context.Context) (actor.Actor, bool) {
	a, ok := ctx.Value(actorKey).(actor.Actor)
	return a, ok
}

// WithActor is used by tests to inject an authenticated actor.
func WithActor(ctx context.Context, a actor.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// Authenticate resolves a Bearer token to an actor. A missing header passes
// through anonymously (guest checkout); a present-but-invalid one is a 401.
func Authenticate(tokens *auth.TokenService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := tokens.Validate(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), claims.Actor())))
	})
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFrom(r.Context()); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RequireStaff rejects everything but staff tokens.
func RequireStaff(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ActorFrom(r.Context())
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !a.IsStaff() {
			http.Error(w, "staff access required", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
