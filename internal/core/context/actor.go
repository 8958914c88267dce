// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// SystemActor is recorded on ledger rows written by background processes.
const SystemActor = "system"

// Actor identifies who triggers an operation. It is set by the HTTP layer
// from gateway headers, or by the worker as SystemActor.
type Actor struct {
	ActorID string
	Roles   []string
	IsAdmin bool
}

type actorContextKey struct{}

// WithActor adds Actor to context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns Actor from context.
func GetActor(ctx context.Context) *Actor {
	if v, ok := ctx.Value(actorContextKey{}).(*Actor); ok {
		return v
	}
	return nil
}

// GetActorID returns the actor id, falling back to SystemActor.
func GetActorID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil && a.ActorID != "" {
		return a.ActorID
	}
	return SystemActor
}

// IsAdmin reports whether the current actor may perform administrative overrides.
func IsAdmin(ctx context.Context) bool {
	a := GetActor(ctx)
	return a != nil && a.IsAdmin
}

// HasRole checks if actor has specific role.
func HasRole(ctx context.Context, role string) bool {
	a := GetActor(ctx)
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
