package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dukerupert/franchise/internal/domain"
)

// Identity headers set by the trusted gateway in front of the service.
const (
	ActorIDHeader    = "X-Actor-ID"
	ActorRolesHeader = "X-Actor-Roles"
)

// WithActor reads the gateway identity headers into the request context.
// Requests without an actor pass through; RequireActor rejects them.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ActorIDHeader))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		actor := &domain.Actor{
			ID:    id,
			Roles: domain.ParseRoles(r.Header.Get(ActorRolesHeader)),
		}
		ctx := domain.NewContextWithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireActor rejects requests that carry no actor identity.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetActor(r.Context()) == nil {
			respondUnauthorized(w, r, "Actor identity is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActor returns the request's actor, or nil.
func GetActor(ctx context.Context) *domain.Actor {
	return domain.ActorFromContext(ctx)
}
