package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/herbchain/internal/domain"
)

// RegisterActorInput holds input values for actor registration.
type RegisterActorInput struct {
	ID      string
	Name    string
	Role    string
	Company string
	License string
}

// RegisterActor adds an actor to the identity registry.
// Re-registering identical data returns the stored actor; differing data is a conflict.
func (s *Service) RegisterActor(ctx context.Context, in RegisterActorInput) (domain.Actor, error) {
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return domain.Actor{}, err
	}
	actor, err := domain.NewActor(in.ID, in.Name, role, in.Company, in.License, s.clock())
	if err != nil {
		return domain.Actor{}, err
	}
	existing, err := s.actors.GetActor(ctx, actor.ID)
	switch {
	case err == nil:
		if existing.SameIdentity(actor) {
			return existing, nil
		}
		return domain.Actor{}, fmt.Errorf("%w: actor %s is registered with different details", domain.ErrDuplicate, actor.ID)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Actor{}, err
	}
	if err := s.actors.CreateActor(ctx, actor); err != nil {
		return domain.Actor{}, err
	}
	s.logger.Info("actor registered", "actor_id", actor.ID, "role", string(actor.Role), "company", actor.Company)
	return actor, nil
}

// ResolveActor looks up a registered actor.
func (s *Service) ResolveActor(ctx context.Context, actorID string) (domain.Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.Actor{}, ErrActorRequired
	}
	actor, err := s.actors.GetActor(ctx, actorID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("resolve actor %s: %w", actorID, err)
	}
	return actor, nil
}

// ListActors returns every registered actor.
func (s *Service) ListActors(ctx context.Context) ([]domain.Actor, error) {
	return s.actors.ListActors(ctx)
}
