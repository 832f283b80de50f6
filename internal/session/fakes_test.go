package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rafaeljc/engage/internal/cache"
)

type fakeSource struct {
	mu        sync.Mutex
	manifests map[string]string
	versions  map[string]int64
	fetches   atomic.Int32
	gate      chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{manifests: map[string]string{}, versions: map[string]int64{}}
}

func (f *fakeSource) put(appKey, body string, version int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[appKey] = body
	f.versions[appKey] = version
}

func (f *fakeSource) GetManifest(_ context.Context, appKey string) ([]byte, int64, error) {
	f.fetches.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.manifests[appKey]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", cache.ErrManifestNotCached, appKey)
	}
	return []byte(body), f.versions[appKey], nil
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	ttls     map[string]time.Duration
	saves    atomic.Int32
	loadErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) LoadSession(_ context.Context, appKey, sessionID string) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.sessions[appKey+"/"+sessionID]
	if !ok {
		return nil, cache.ErrSessionNotFound
	}
	return data, nil
}

func (f *fakeStore) SaveSession(_ context.Context, appKey, sessionID string, snapshot []byte, ttl time.Duration) error {
	f.saves.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[appKey+"/"+sessionID] = append([]byte(nil), snapshot...)
	f.ttls[appKey+"/"+sessionID] = ttl
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, appKey, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, appKey+"/"+sessionID)
	return nil
}

func (f *fakeStore) raw(appKey, sessionID string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.sessions[appKey+"/"+sessionID]
	return data, ok
}

// fakeSubscriber replays queued invalidations, then blocks until ctx ends.
type fakeSubscriber struct {
	events chan cache.Invalidation
	calls  atomic.Int32
	failN  int32
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, handle func(cache.Invalidation)) error {
	if f.calls.Add(1) <= f.failN {
		return fmt.Errorf("connection reset")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case inv := <-f.events:
			handle(inv)
		}
	}
}
