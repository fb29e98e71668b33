package domain

import (
	"context"

	"github.com/google/uuid"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

// Actor identifies who is executing a command and in which tenant.
type Actor struct {
	InstanceID string
	OrgID      string
	UserID     string
	RequestID  string
}

type contextKey struct{}

// WithActor attaches the actor to the context. A missing request id is filled
// with a fresh uuid so every command is traceable.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if actor.RequestID == "" {
		actor.RequestID = uuid.NewString()
	}
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext returns the actor or an Invalid error when the context
// carries none or the instance id is empty.
func ActorFromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	if !ok || actor.InstanceID == "" {
		return Actor{}, errs.ThrowInvalid(nil, "DOMAIN-actor", "actor context with instance id required")
	}
	return actor, nil
}
