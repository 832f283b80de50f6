// Package engagement decides which interaction, if any, an event should
// trigger. It combines a Manifest (interactions plus targeted events) with a
// session's mutable state and keeps the invocation counters that targeting
// criteria depend on.
package engagement

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rafaeljc/engage/internal/criteria"
)

// ErrInvalidManifest wraps every manifest ingestion failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// Interaction is a prompt the host application can display.
// Configuration is opaque to the engine and passed through verbatim.
type Interaction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Version       int             `json:"version,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Target is one candidate of a targeted event: when Criteria holds, the
// interaction InteractionID is shown.
type Target struct {
	InteractionID string          `json:"interaction_id"`
	Criteria      json.RawMessage `json:"criteria,omitempty"`

	compiled *criteria.Node
}

// Manifest is the server-authored configuration of an application.
// Targets maps an event label to its candidates in priority order.
//
// A compiled Manifest is read-only and may be shared between engines.
type Manifest struct {
	Interactions []Interaction       `json:"interactions"`
	Targets      map[string][]Target `json:"targets"`

	byID     map[string]int
	compiled bool
}

// ParseManifest decodes and compiles a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := m.Compile(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Compile validates the manifest and compiles every target's criteria.
// Criteria that are not JSON at all are rejected; criteria that are JSON but
// not a valid tree compile into nodes that never match.
func (m *Manifest) Compile() error {
	byID := make(map[string]int, len(m.Interactions))
	for i, in := range m.Interactions {
		if in.ID == "" {
			return fmt.Errorf("%w: interaction at index %d has no id", ErrInvalidManifest, i)
		}
		if _, dup := byID[in.ID]; dup {
			return fmt.Errorf("%w: duplicate interaction id %q", ErrInvalidManifest, in.ID)
		}
		byID[in.ID] = i
	}

	for label, targets := range m.Targets {
		for i := range targets {
			node, err := criteria.Compile(targets[i].Criteria)
			if err != nil {
				return fmt.Errorf("%w: target %d of event %q: %w", ErrInvalidManifest, i, label, err)
			}
			targets[i].compiled = node
		}
	}

	m.byID = byID
	m.compiled = true
	return nil
}

// Compiled reports whether Compile has succeeded on m.
func (m *Manifest) Compiled() bool {
	return m != nil && m.compiled
}

// InteractionByID returns the interaction with the given id.
func (m *Manifest) InteractionByID(id string) (Interaction, bool) {
	i, ok := m.byID[id]
	if !ok {
		return Interaction{}, false
	}
	return m.Interactions[i], true
}

// InteractionByType returns the first interaction of the given type in
// manifest order.
func (m *Manifest) InteractionByType(typ string) (Interaction, bool) {
	for _, in := range m.Interactions {
		if in.Type == typ {
			return in, true
		}
	}
	return Interaction{}, false
}

// TargetsFor returns the candidates of an event label in priority order.
func (m *Manifest) TargetsFor(label string) []Target {
	return m.Targets[label]
}

// emptyManifest is used until a real manifest is installed.
func emptyManifest() *Manifest {
	m := &Manifest{}
	_ = m.Compile()
	return m
}
