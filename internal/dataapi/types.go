package dataapi

import (
	"context"
	"log/slog"

	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/session"
	"github.com/rafaeljc/engage/internal/state"
)

type sessionRef struct {
	AppKey    string `json:"app_key"`
	SessionID string `json:"session_id"`
}

func (r sessionRef) key() session.Key {
	return session.Key{AppKey: r.AppKey, SessionID: r.SessionID}
}

// scope tags the request logger with the session it addresses.
func (r sessionRef) scope(ctx context.Context) context.Context {
	return logger.With(ctx, slog.String("app_key", r.AppKey), slog.String("session_id", r.SessionID))
}

type createSessionRequest struct {
	AppKey      string                  `json:"app_key"`
	Environment *engagement.Environment `json:"environment,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type noteAction struct {
	ID    string  `json:"id"`
	Label *string `json:"label,omitempty"`
}

type engageEventRequest struct {
	sessionRef
	Event         string                         `json:"event"`
	InteractionID string                         `json:"interaction_id,omitempty"`
	Answers       map[string][]state.AnswerEntry `json:"answers,omitempty"`
	Action        *noteAction                    `json:"action,omitempty"`
}

func (r *engageEventRequest) eventData() *engagement.EventData {
	if r.InteractionID == "" {
		return nil
	}
	data := &engagement.EventData{InteractionID: r.InteractionID, Answers: r.Answers}
	if r.Action != nil {
		data.Action = &state.NoteAction{ID: r.Action.ID, Label: r.Action.Label}
	}
	return data
}

type eventRequest struct {
	sessionRef
	Event string `json:"event"`
}

// interactionResponse carries the selected interaction, or null.
type interactionResponse struct {
	Interaction *engagement.Interaction `json:"interaction"`
}

type getInteractionRequest struct {
	AppKey string `json:"app_key"`
	ID     string `json:"id,omitempty"`
	Type   string `json:"type,omitempty"`
}

type updateContextRequest struct {
	sessionRef
	Device      map[string]any          `json:"device,omitempty"`
	Person      map[string]any          `json:"person,omitempty"`
	Environment *engagement.Environment `json:"environment,omitempty"`
}

type stateResponse struct {
	State       *state.State           `json:"state"`
	Environment engagement.Environment `json:"environment"`
}

type emptyResponse struct{}
