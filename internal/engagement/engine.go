package engagement

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rafaeljc/engage/internal/criteria"
	"github.com/rafaeljc/engage/internal/state"
)

// Internal events that carry submission data for the interaction that raised them.
const (
	EventSurveySubmit    = "com.apptentive#Survey#submit"
	EventNoteDismiss     = "com.apptentive#TextModal#dismiss"
	EventNoteInteraction = "com.apptentive#TextModal#interaction"
)

// Environment is the read-only context of the host application.
// Reset does not touch it.
type Environment struct {
	Application   map[string]any `json:"application,omitempty"`
	TimeAtInstall map[string]any `json:"time_at_install,omitempty"`
	IsUpdate      map[string]any `json:"is_update,omitempty"`
}

// EventData is the optional payload of an engaged event.
type EventData struct {
	// InteractionID is the survey or note that raised an internal event.
	InteractionID string
	// Answers maps question ids to the answers of a survey submission.
	Answers map[string][]state.AnswerEntry
	// Action is the note button that was pressed, if any.
	Action *state.NoteAction
}

type engineOptions struct {
	logger *slog.Logger
	clock  state.Clock
	random func() float64
	state  *state.State
	env    Environment
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger sets the logger used for criteria warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithClock freezes or shifts time for both evaluation and timestamps.
func WithClock(clock state.Clock) Option {
	return func(o *engineOptions) { o.clock = clock }
}

// WithRandom overrides the source of random buckets.
func WithRandom(random func() float64) Option {
	return func(o *engineOptions) { o.random = random }
}

// WithState hydrates the engine from a persisted snapshot. The engine takes
// ownership of st.
func WithState(st *state.State) Option {
	return func(o *engineOptions) { o.state = st }
}

// WithEnvironment sets the application context.
func WithEnvironment(env Environment) Option {
	return func(o *engineOptions) { o.env = env }
}

// Engine is the engagement orchestrator for a single session.
//
// Every public method holds the engine mutex, so evaluating an event's
// targets and updating its counters happen atomically.
type Engine struct {
	mu        sync.Mutex
	logger    *slog.Logger
	evaluator *criteria.Evaluator
	mutator   state.Mutator
	manifest  *Manifest
	state     *state.State
	env       Environment
}

// NewEngine creates an Engine for manifest. A nil manifest behaves as an empty
// one. An uncompiled manifest is compiled first.
func NewEngine(manifest *Manifest, opts ...Option) (*Engine, error) {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = state.SystemClock
	}
	if o.state == nil {
		o.state = state.New()
	}
	o.state.Ensure()

	e := &Engine{
		logger:    o.logger,
		evaluator: criteria.NewEvaluator(o.logger, criteria.WithClock(o.clock), criteria.WithRandom(o.random)),
		mutator:   state.NewMutator(o.clock),
		state:     o.state,
		env:       o.env,
	}
	if err := e.setManifest(manifest); err != nil {
		return nil, err
	}
	return e, nil
}

// EngageEvent records that label fired and returns the interaction it
// triggers, or nil.
//
// The event is counted before its targets are evaluated but stamped only
// afterwards, so criteria on the event's own last_invoked_at see the
// previous firing while its counters already include this one.
func (e *Engine) EngageEvent(label string, data *EventData) *Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mutator.Count(e.state.CodePoints, label)

	id, interaction := e.firstMatch(label)

	e.mutator.Stamp(e.state.CodePoints, label)
	e.augment(label, data)

	if id == "" {
		e.logger.Debug("event engaged without interaction", "event", label)
		return nil
	}

	e.mutator.Bump(e.state.InteractionCounts, id)
	if interaction == nil {
		return nil
	}
	e.logger.Debug("event engaged",
		"event", label,
		"interaction_id", interaction.ID,
		"interaction_type", interaction.Type,
	)
	return interaction
}

// CanShowInteractionForEvent reports which interaction label would trigger
// now, without counting anything. Evaluation may still cache random buckets.
func (e *Engine) CanShowInteractionForEvent(label string) *Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, interaction := e.firstMatch(label)
	return interaction
}

// InteractionFromID looks up an interaction of the current manifest.
func (e *Engine) InteractionFromID(id string) *Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.manifest.InteractionByID(id)
	if !ok {
		return nil
	}
	return &in
}

// InteractionFromType returns the first interaction of typ in manifest order.
func (e *Engine) InteractionFromType(typ string) *Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.manifest.InteractionByType(typ)
	if !ok {
		return nil
	}
	return &in
}

// EvaluateCriteria evaluates ad-hoc criteria against the current state.
// Roots present in override shadow the engine's own data.
func (e *Engine) EvaluateCriteria(raw json.RawMessage, override map[string]any) (bool, error) {
	node, err := criteria.Compile(raw)
	if err != nil {
		return false, fmt.Errorf("failed to compile criteria: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.context()
	ctx.Override = override
	return e.evaluator.Evaluate(node, ctx), nil
}

// SetManifest swaps the manifest. Counters, answers and buckets are kept.
func (e *Engine) SetManifest(m *Manifest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.setManifest(m)
}

// SetEnvironment replaces the application context.
func (e *Engine) SetEnvironment(env Environment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.env = env
}

// UpdateDevice merges patch into the device bag. Nil values delete keys.
func (e *Engine) UpdateDevice(patch map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state.MergeBag(e.state.Device, patch)
}

// UpdatePerson merges patch into the person bag. Nil values delete keys.
func (e *Engine) UpdatePerson(patch map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state.MergeBag(e.state.Person, patch)
}

// Snapshot returns a deep copy of the mutable state for persistence.
func (e *Engine) Snapshot() *state.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Clone()
}

// Reset clears counters, answers, buckets and the device and person bags.
// The manifest and environment are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Reset()
}

func (e *Engine) setManifest(m *Manifest) error {
	if m == nil {
		m = emptyManifest()
	}
	if !m.Compiled() {
		if err := m.Compile(); err != nil {
			return err
		}
	}
	e.manifest = m
	return nil
}

// firstMatch evaluates the targets of label in priority order and returns the
// interaction id of the first satisfied one. The interaction is nil when that
// id is missing from the manifest; lower-ranked targets are not consulted.
func (e *Engine) firstMatch(label string) (string, *Interaction) {
	for i, target := range e.manifest.TargetsFor(label) {
		if !e.evaluator.Evaluate(target.compiled, e.context()) {
			continue
		}
		in, ok := e.manifest.InteractionByID(target.InteractionID)
		if !ok {
			e.logger.Warn("target matched unknown interaction",
				"event", label,
				"target_index", i,
				"interaction_id", target.InteractionID,
			)
			return target.InteractionID, nil
		}
		return target.InteractionID, &in
	}
	return "", nil
}

func (e *Engine) augment(label string, data *EventData) {
	if data == nil || data.InteractionID == "" {
		return
	}
	switch label {
	case EventSurveySubmit:
		e.mutator.AugmentSurveySubmission(e.state.InteractionCounts, data.InteractionID, data.Answers)
	case EventNoteDismiss, EventNoteInteraction:
		e.mutator.AugmentNoteAction(e.state.InteractionCounts, data.InteractionID, data.Action)
	}
}

func (e *Engine) context() *criteria.Context {
	return &criteria.Context{
		State:         e.state,
		Application:   e.env.Application,
		TimeAtInstall: e.env.TimeAtInstall,
		IsUpdate:      e.env.IsUpdate,
	}
}
