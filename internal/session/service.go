// Package session hosts engagement engines for remote callers. Each request
// hydrates an engine from a persisted session snapshot, runs one operation
// and persists the snapshot again if anything changed.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/observability"
	"github.com/rafaeljc/engage/internal/state"
	"github.com/rafaeljc/engage/internal/validation"
)

// ErrInvalidArgument marks malformed requests.
var ErrInvalidArgument = errors.New("invalid argument")

// Store persists session snapshots.
type Store interface {
	LoadSession(ctx context.Context, appKey, sessionID string) ([]byte, error)
	SaveSession(ctx context.Context, appKey, sessionID string, snapshot []byte, ttl time.Duration) error
	DeleteSession(ctx context.Context, appKey, sessionID string) error
}

// Key identifies one session of one application.
type Key struct {
	AppKey    string
	SessionID string
}

func (k Key) validate() error {
	if err := validation.ValidateKey("app key", k.AppKey); err != nil {
		return err
	}
	return validation.ValidateKey("session id", k.SessionID)
}

// ContextUpdate patches the context of a session. Nil values in Device and
// Person delete keys. A non-nil Environment replaces the stored one.
type ContextUpdate struct {
	Device      map[string]any
	Person      map[string]any
	Environment *engagement.Environment
}

// snapshot is the persisted form of a session.
type snapshot struct {
	State       *state.State           `json:"state"`
	Environment engagement.Environment `json:"environment"`

	// dirty forces a save even when nothing observable changed.
	dirty bool
}

func (s *snapshot) encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the engine clock.
func WithClock(clock state.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithRandom overrides the engine's random source.
func WithRandom(random func() float64) Option {
	return func(s *Service) { s.random = random }
}

// WithIDGenerator overrides how Create mints session ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service runs engagement operations against persisted sessions.
//
// Operations on the same session are serialized through a striped lock, so
// the load, evaluate and save cycle of one request never interleaves with
// another on this process.
type Service struct {
	manifests *ManifestProvider
	store     Store
	locks     []sync.Mutex
	ttl       time.Duration
	timeout   time.Duration

	logger *slog.Logger
	clock  state.Clock
	random func() float64
	newID  func() string
}

// NewService panics on nil dependencies.
func NewService(manifests *ManifestProvider, store Store, cfg *config.SessionConfig, opts ...Option) *Service {
	validation.AssertNotNil(manifests, "manifest provider")
	validation.AssertNotNilInterface(store, "session store")
	validation.AssertNotNil(cfg, "session config")

	s := &Service{
		manifests: manifests,
		store:     store,
		locks:     make([]sync.Mutex, max(cfg.LockStripes, 1)),
		ttl:       cfg.TTL,
		timeout:   cfg.OperationTimeout,
		logger:    slog.Default(),
		clock:     state.SystemClock,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create mints a session id for appKey and persists its initial context.
func (s *Service) Create(ctx context.Context, appKey string, env *engagement.Environment) (string, error) {
	key := Key{AppKey: appKey, SessionID: s.newID()}
	err := s.withSession(ctx, key, func(e *engagement.Engine, snap *snapshot) error {
		if env != nil {
			snap.Environment = *env
		}
		snap.dirty = true
		return nil
	})
	if err != nil {
		return "", err
	}
	return key.SessionID, nil
}

// Engage fires event for the session and returns the interaction to show,
// or nil.
func (s *Service) Engage(ctx context.Context, key Key, event string, data *engagement.EventData) (*engagement.Interaction, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidArgument)
	}

	var result *engagement.Interaction
	err := s.withSession(ctx, key, func(e *engagement.Engine, _ *snapshot) error {
		result = e.EngageEvent(event, data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "none"
	if result != nil {
		outcome = "interaction"
	}
	observability.DataPlaneEngagements.WithLabelValues(outcome).Inc()
	return result, nil
}

// CanShow reports the interaction event would trigger without counting it.
func (s *Service) CanShow(ctx context.Context, key Key, event string) (*engagement.Interaction, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidArgument)
	}

	var result *engagement.Interaction
	err := s.withSession(ctx, key, func(e *engagement.Engine, _ *snapshot) error {
		result = e.CanShowInteractionForEvent(event)
		return nil
	})
	return result, err
}

// Interaction looks up an interaction of appKey's manifest by id, or by type
// when id is empty.
func (s *Service) Interaction(ctx context.Context, appKey, id, typ string) (*engagement.Interaction, error) {
	if err := validation.ValidateKey("app key", appKey); err != nil {
		return nil, err
	}
	if id == "" && typ == "" {
		return nil, fmt.Errorf("%w: interaction id or type is required", ErrInvalidArgument)
	}

	manifest, _, err := s.manifests.Get(ctx, appKey)
	if err != nil {
		return nil, err
	}
	if id != "" {
		if in, ok := manifest.InteractionByID(id); ok {
			return &in, nil
		}
		return nil, nil
	}
	if in, ok := manifest.InteractionByType(typ); ok {
		return &in, nil
	}
	return nil, nil
}

// UpdateContext merges device and person patches and optionally replaces the
// environment.
func (s *Service) UpdateContext(ctx context.Context, key Key, update ContextUpdate) error {
	return s.withSession(ctx, key, func(e *engagement.Engine, snap *snapshot) error {
		if update.Device != nil {
			e.UpdateDevice(update.Device)
		}
		if update.Person != nil {
			e.UpdatePerson(update.Person)
		}
		if update.Environment != nil {
			snap.Environment = *update.Environment
		}
		return nil
	})
}

// State returns a copy of the session state and environment.
func (s *Service) State(ctx context.Context, key Key) (*state.State, engagement.Environment, error) {
	var (
		st  *state.State
		env engagement.Environment
	)
	err := s.withSession(ctx, key, func(e *engagement.Engine, snap *snapshot) error {
		st = e.Snapshot()
		env = snap.Environment
		return nil
	})
	return st, env, err
}

// Reset wipes the counters, answers, buckets and context bags of a session.
// The environment is kept.
func (s *Service) Reset(ctx context.Context, key Key) error {
	return s.withSession(ctx, key, func(e *engagement.Engine, _ *snapshot) error {
		e.Reset()
		return nil
	})
}

// Delete forgets a session entirely.
func (s *Service) Delete(ctx context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	return s.store.DeleteSession(ctx, key.AppKey, key.SessionID)
}

func (s *Service) withSession(ctx context.Context, key Key, fn func(*engagement.Engine, *snapshot) error) error {
	if err := key.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	manifest, _, err := s.manifests.Get(ctx, key.AppKey)
	if err != nil {
		return err
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	snap, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	before, err := snap.encode()
	if err != nil {
		return err
	}

	engine, err := engagement.NewEngine(manifest,
		engagement.WithLogger(s.requestLogger(ctx, key)),
		engagement.WithClock(s.clock),
		engagement.WithRandom(s.random),
		engagement.WithState(snap.State),
		engagement.WithEnvironment(snap.Environment),
	)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	if err := fn(engine, snap); err != nil {
		return err
	}

	snap.State = engine.Snapshot()
	after, err := snap.encode()
	if err != nil {
		return err
	}
	if !snap.dirty && bytes.Equal(before, after) {
		return nil
	}

	if err := s.store.SaveSession(ctx, key.AppKey, key.SessionID, after, s.ttl); err != nil {
		observability.DataPlaneSessionErrors.WithLabelValues("save").Inc()
		return err
	}
	return nil
}

// load returns the stored snapshot or an empty one. A snapshot that no longer
// decodes is logged and replaced.
func (s *Service) load(ctx context.Context, key Key) (*snapshot, error) {
	data, err := s.store.LoadSession(ctx, key.AppKey, key.SessionID)
	if errors.Is(err, cache.ErrSessionNotFound) {
		return &snapshot{State: state.New()}, nil
	}
	if err != nil {
		observability.DataPlaneSessionErrors.WithLabelValues("load").Inc()
		return nil, err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		observability.DataPlaneSessionErrors.WithLabelValues("decode").Inc()
		s.logger.Warn("discarding undecodable session snapshot",
			slog.String("app_key", key.AppKey),
			slog.String("session_id", key.SessionID),
			slog.String("error", err.Error()),
		)
		return &snapshot{State: state.New()}, nil
	}
	if snap.State == nil {
		snap.State = state.New()
	}
	snap.State.Ensure()
	return &snap, nil
}

// requestLogger prefers the logger the caller scoped into ctx, which already
// carries the request id and session attributes.
func (s *Service) requestLogger(ctx context.Context, key Key) *slog.Logger {
	if log, ok := logger.Lookup(ctx); ok {
		return log
	}
	return s.logger.With(slog.String("app_key", key.AppKey), slog.String("session_id", key.SessionID))
}

func (s *Service) lockFor(key Key) *sync.Mutex {
	h := murmur3.New32()
	_, _ = h.Write([]byte(key.AppKey))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.SessionID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}
