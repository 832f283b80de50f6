package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// New returns an empty State with every map initialized.
func New() *State {
	s := &State{}
	s.Ensure()
	return s
}

// Decode hydrates a State from its JSON snapshot. Missing maps are initialized
// so a partially persisted snapshot is still usable.
func Decode(data []byte) (*State, error) {
	s := &State{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to decode state snapshot: %w", err)
		}
	}
	s.Ensure()
	return s, nil
}

// Encode serializes the State into its JSON snapshot.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state snapshot: %w", err)
	}
	return data, nil
}

// Reset wipes every map. Manifest data lives elsewhere and is not affected.
func (s *State) Reset() {
	s.CodePoints = Records{}
	s.InteractionCounts = Records{}
	s.Random = map[string]float64{}
	s.Device = map[string]any{}
	s.Person = map[string]any{}
}

// Clone returns a deep copy that shares no memory with s.
func (s *State) Clone() *State {
	out := &State{
		CodePoints:        s.CodePoints.clone(),
		InteractionCounts: s.InteractionCounts.clone(),
		Random:            maps.Clone(s.Random),
		Device:            cloneBag(s.Device),
		Person:            cloneBag(s.Person),
	}
	out.Ensure()
	return out
}

// Ensure initializes any nil map, so a hand-built State is safe to mutate.
func (s *State) Ensure() {
	if s.CodePoints == nil {
		s.CodePoints = Records{}
	}
	if s.InteractionCounts == nil {
		s.InteractionCounts = Records{}
	}
	if s.Random == nil {
		s.Random = map[string]float64{}
	}
	if s.Device == nil {
		s.Device = map[string]any{}
	}
	if s.Person == nil {
		s.Person = map[string]any{}
	}
}

func (r Records) clone() Records {
	if r == nil {
		return nil
	}
	out := make(Records, len(r))
	for k, rec := range r {
		if rec == nil {
			continue
		}
		c := *rec
		c.LastInvokedAt = cloneTime(rec.LastInvokedAt)
		c.LastSubmissionAt = cloneTime(rec.LastSubmissionAt)
		c.Answers = cloneAnswers(rec.Answers)
		c.CurrentAnswer = cloneAnswers(rec.CurrentAnswer)
		out[k] = &c
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAnswers(in []AnswerEntry) []AnswerEntry {
	if in == nil {
		return nil
	}
	out := make([]AnswerEntry, len(in))
	for i, a := range in {
		out[i] = AnswerEntry{ID: a.ID}
		if a.Value != nil {
			v := *a.Value
			out[i].Value = &v
		}
	}
	return out
}

func cloneBag(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneBag(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// MergeBag copies every key of src into dst, replacing nested maps wholesale.
// A nil value deletes the key.
func MergeBag(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = cloneValue(v)
	}
}
