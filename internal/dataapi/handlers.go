package dataapi

import (
	"context"
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/session"
)

// CreateSession mints a session for an application with a published
// manifest.
func (a *API) CreateSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createSessionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	id, err := a.sessions.Create(ctx, req.AppKey, req.Environment)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	logger.FromContext(ctx).Debug("session created",
		slog.String("app_key", req.AppKey),
		slog.String("session_id", id),
	)
	return encode(createSessionResponse{SessionID: id})
}

// EngageEvent counts the event and returns the interaction it triggers.
func (a *API) EngageEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req engageEventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ctx = req.scope(ctx)

	interaction, err := a.sessions.Engage(ctx, req.key(), req.Event, req.eventData())
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(interactionResponse{Interaction: interaction})
}

// CanShowInteraction previews EngageEvent without counting anything.
func (a *API) CanShowInteraction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req eventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ctx = req.scope(ctx)

	interaction, err := a.sessions.CanShow(ctx, req.key(), req.Event)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(interactionResponse{Interaction: interaction})
}

// GetInteraction looks an interaction up by id or, without one, by type.
func (a *API) GetInteraction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req getInteractionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	interaction, err := a.sessions.Interaction(ctx, req.AppKey, req.ID, req.Type)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(interactionResponse{Interaction: interaction})
}

// UpdateContext patches the device and person bags and optionally replaces
// the environment.
func (a *API) UpdateContext(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req updateContextRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ctx = req.scope(ctx)

	err := a.sessions.UpdateContext(ctx, req.key(), session.ContextUpdate{
		Device:      req.Device,
		Person:      req.Person,
		Environment: req.Environment,
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(emptyResponse{})
}

// GetState returns the session's counters, answers, bags and environment.
func (a *API) GetState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sessionRef
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ctx = req.scope(ctx)

	st, env, err := a.sessions.State(ctx, req.key())
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(stateResponse{State: st, Environment: env})
}

// ResetState clears everything but the environment.
func (a *API) ResetState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sessionRef
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ctx = req.scope(ctx)

	if err := a.sessions.Reset(ctx, req.key()); err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(emptyResponse{})
}

// DeleteSession forgets a session.
func (a *API) DeleteSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sessionRef
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ctx = req.scope(ctx)

	if err := a.sessions.Delete(ctx, req.key()); err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(emptyResponse{})
}
