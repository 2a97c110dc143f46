// Package domain provides the core order lifecycle types, the order state
// machine, the error taxonomy and the persistence contracts.
//
// Context helpers centralize request-scoped data access so services never
// read actor identity from anywhere but the context.
package domain

import (
	"context"
	"slices"
	"strings"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// actorContextKey stores the calling actor in context.
	actorContextKey contextKey = iota

	// requestIDContextKey stores the request ID for tracing.
	requestIDContextKey
)

// Role is a capability granted to an actor by the calling application.
type Role string

const (
	RoleRequester   Role = "requester"   // franchisee staff placing orders
	RoleApprover    Role = "approver"    // franchisor staff deciding orders
	RoleFulfillment Role = "fulfillment" // warehouse staff
	RoleSystem      Role = "system"      // background workers
)

// Actor is whoever triggers an operation. Identity is asserted by the
// trusted gateway in front of this service.
type Actor struct {
	ID    string `json:"id"`
	Roles []Role `json:"roles"`
}

// HasRole reports whether the actor was granted r.
func (a Actor) HasRole(r Role) bool {
	return slices.Contains(a.Roles, r)
}

// ParseRoles parses a comma separated role list, ignoring unknown roles.
func ParseRoles(s string) []Role {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		r := Role(strings.ToLower(strings.TrimSpace(part)))
		switch r {
		case RoleRequester, RoleApprover, RoleFulfillment, RoleSystem:
			if !slices.Contains(roles, r) {
				roles = append(roles, r)
			}
		}
	}
	return roles
}

// SystemActor is the identity background workers act under.
func SystemActor(id string) Actor {
	return Actor{ID: id, Roles: []Role{RoleSystem}}
}

// --- Actor Context Helpers ---

// NewContextWithActor returns a new context with the actor attached.
func NewContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext retrieves the actor from context.
// Returns nil if no actor is present.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey).(*Actor)
	return actor
}

// ActorIDFromContext retrieves the actor ID from context.
// Returns empty string if no actor is present.
func ActorIDFromContext(ctx context.Context) string {
	if actor := ActorFromContext(ctx); actor != nil {
		return actor.ID
	}
	return ""
}

// --- Request ID Context Helpers ---

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}
