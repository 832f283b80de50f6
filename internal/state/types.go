// Package state holds the mutable engagement state of a single session: the
// per-event (code point) and per-interaction invocation records, the cached
// random sampling buckets and the device/person context bags.
//
// The package performs no I/O. Callers hydrate a State from their own storage
// (see internal/cache) and persist it again after each mutation.
package state

import "time"

// Clock returns the current instant. It is injected so tests can freeze time.
type Clock func() time.Time

// SystemClock is the production Clock.
func SystemClock() time.Time {
	return time.Now()
}

// Invokes counts engagements. The three counters always move together; they are
// kept separate for wire compatibility with persisted state and existing manifests.
type Invokes struct {
	Total   int64 `json:"total"`
	Version int64 `json:"version"`
	Build   int64 `json:"build"`
}

// AnswerEntry is a single recorded answer. Choice answers carry an ID, free-form
// answers carry a Value, and "other" choices carry both.
type AnswerEntry struct {
	ID    string  `json:"id,omitempty"`
	Value *string `json:"value,omitempty"`
}

// ChoiceAnswer builds an answer that only references a choice id.
func ChoiceAnswer(id string) AnswerEntry {
	return AnswerEntry{ID: id}
}

// TextAnswer builds a free-form answer.
func TextAnswer(value string) AnswerEntry {
	return AnswerEntry{Value: &value}
}

// NewAnswer builds an answer with both an id and a value.
func NewAnswer(id, value string) AnswerEntry {
	return AnswerEntry{ID: id, Value: &value}
}

// Record is the invocation record of one event label or one interaction id.
type Record struct {
	Invokes          Invokes       `json:"invokes"`
	LastInvokedAt    *time.Time    `json:"last_invoked_at,omitempty"`
	LastSubmissionAt *time.Time    `json:"last_submission_at,omitempty"`
	Answers          []AnswerEntry `json:"answers,omitempty"`
	CurrentAnswer    []AnswerEntry `json:"current_answer,omitempty"`
}

// Records maps an event label or interaction id to its record.
type Records map[string]*Record

// NoteAction describes the button a user pressed on a note (TextModal).
type NoteAction struct {
	ID    string  `json:"id"`
	Label *string `json:"label,omitempty"`
}

// State is the full mutable state of one engagement session.
// Its JSON form is the snapshot callers persist between requests.
type State struct {
	CodePoints        Records            `json:"code_point"`
	InteractionCounts Records            `json:"interaction_counts"`
	Random            map[string]float64 `json:"random"`
	Device            map[string]any     `json:"device"`
	Person            map[string]any     `json:"person"`
}
