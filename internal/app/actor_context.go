package app

import (
	"context"
	"strings"
)

// WithActorID attaches the calling actor's id to context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDContextKey{}, strings.TrimSpace(actorID))
}

// ActorIDFromContext returns the calling actor's id when present.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorIDContextKey{}).(string)
	if !ok || actorID == "" {
		return "", false
	}
	return actorID, true
}

// actorIDContextKey stores context keys for the calling actor id.
type actorIDContextKey struct{}
