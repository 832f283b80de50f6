package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/store"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// FakeManifestRepository is an in-memory store.ManifestRepository.
type FakeManifestRepository struct {
	mu      sync.Mutex
	records map[string]*store.ManifestRecord
	nextID  int64

	// Err, when set, fails every call.
	Err error
}

var _ store.ManifestRepository = (*FakeManifestRepository)(nil)

func NewFakeManifestRepository() *FakeManifestRepository {
	return &FakeManifestRepository{records: map[string]*store.ManifestRecord{}}
}

func (f *FakeManifestRepository) UpsertManifest(_ context.Context, appKey string, body json.RawMessage, expectedVersion *int64) (*store.ManifestRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	now := time.Now().UTC()
	rec, exists := f.records[appKey]
	switch {
	case expectedVersion != nil && *expectedVersion == 0 && exists:
		return nil, store.ErrVersionConflict
	case expectedVersion != nil && *expectedVersion > 0 && !exists:
		return nil, fmt.Errorf("%w: %q", store.ErrManifestNotFound, appKey)
	case expectedVersion != nil && *expectedVersion > 0 && rec.Version != *expectedVersion:
		return nil, store.ErrVersionConflict
	}

	if !exists {
		f.nextID++
		rec = &store.ManifestRecord{ID: f.nextID, AppKey: appKey, CreatedAt: now}
		f.records[appKey] = rec
	}
	rec.Body = append(json.RawMessage(nil), body...)
	rec.Version++
	rec.UpdatedAt = now

	out := *rec
	return &out, nil
}

func (f *FakeManifestRepository) GetManifest(_ context.Context, appKey string) (*store.ManifestRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	rec, ok := f.records[appKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrManifestNotFound, appKey)
	}
	out := *rec
	return &out, nil
}

func (f *FakeManifestRepository) ListManifests(ctx context.Context, limit, offset int) ([]*store.ManifestRecord, int64, error) {
	all, err := f.ListAllManifests(ctx)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []*store.ManifestRecord{}, total, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], total, nil
}

func (f *FakeManifestRepository) ListAllManifests(_ context.Context) ([]*store.ManifestRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]*store.ManifestRecord, 0, len(f.records))
	for _, rec := range f.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppKey < out[j].AppKey })
	return out, nil
}

func (f *FakeManifestRepository) DeleteManifest(_ context.Context, appKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.records[appKey]; !ok {
		return fmt.Errorf("%w: %q", store.ErrManifestNotFound, appKey)
	}
	delete(f.records, appKey)
	return nil
}

type cachedManifest struct {
	body    []byte
	version int64
}

// FakeCache is an in-memory cache.Service that, like the Redis script, never
// replaces a manifest with an equal or older version. Published invalidations fan out to active subscribers.
type FakeCache struct {
	mu          sync.Mutex
	manifests   map[string]cachedManifest
	sessions    map[string][]byte
	published   []cache.Invalidation
	subscribers map[int]chan cache.Invalidation
	nextSub     int

	// FailPublishes fails that many PublishUpdate calls before succeeding.
	FailPublishes int
	// FailWrites fails every SetManifestSafely and DeleteManifest call.
	FailWrites bool
}

var _ cache.Service = (*FakeCache)(nil)

func NewFakeCache() *FakeCache {
	return &FakeCache{
		manifests:   map[string]cachedManifest{},
		sessions:    map[string][]byte{},
		subscribers: map[int]chan cache.Invalidation{},
	}
}

func (f *FakeCache) SetManifestSafely(_ context.Context, appKey string, body []byte, version int64) (cache.SetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return cache.SetResultSkipped, ErrInjected
	}
	if current, ok := f.manifests[appKey]; ok && current.version >= version {
		return cache.SetResultSkipped, nil
	}
	f.manifests[appKey] = cachedManifest{body: append([]byte(nil), body...), version: version}
	return cache.SetResultUpdated, nil
}

func (f *FakeCache) GetManifest(_ context.Context, appKey string) ([]byte, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[appKey]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", cache.ErrManifestNotCached, appKey)
	}
	return append([]byte(nil), m.body...), m.version, nil
}

func (f *FakeCache) DeleteManifest(_ context.Context, appKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return ErrInjected
	}
	delete(f.manifests, appKey)
	return nil
}

func (f *FakeCache) ManifestApps(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apps := make([]string, 0, len(f.manifests))
	for app := range f.manifests {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps, nil
}

func (f *FakeCache) PublishUpdate(_ context.Context, appKey string, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPublishes > 0 {
		f.FailPublishes--
		return ErrInjected
	}
	inv := cache.Invalidation{AppKey: appKey, Version: version}
	f.published = append(f.published, inv)
	for _, ch := range f.subscribers {
		select {
		case ch <- inv:
		default:
		}
	}
	return nil
}

func (f *FakeCache) Subscribe(ctx context.Context, handle func(cache.Invalidation)) error {
	ch := make(chan cache.Invalidation, 64)
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subscribers[id] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case inv := <-ch:
			handle(inv)
		}
	}
}

func (f *FakeCache) LoadSession(_ context.Context, appKey, sessionID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.sessions[cache.SessionKey(appKey, sessionID)]
	if !ok {
		return nil, cache.ErrSessionNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeCache) SaveSession(_ context.Context, appKey, sessionID string, snapshot []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[cache.SessionKey(appKey, sessionID)] = append([]byte(nil), snapshot...)
	return nil
}

func (f *FakeCache) DeleteSession(_ context.Context, appKey, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, cache.SessionKey(appKey, sessionID))
	return nil
}

func (f *FakeCache) HealthCheck(context.Context) error { return nil }

func (f *FakeCache) Close() error { return nil }

// Published returns a copy of every successful PublishUpdate.
func (f *FakeCache) Published() []cache.Invalidation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cache.Invalidation(nil), f.published...)
}

// Subscribers reports how many Subscribe calls are active.
func (f *FakeCache) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Manifest returns the cached body and version of appKey.
func (f *FakeCache) Manifest(appKey string) ([]byte, int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[appKey]
	return m.body, m.version, ok
}
