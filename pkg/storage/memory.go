package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps the latest snapshot per exposure in a map. It is the
// default store for a single-host deployment and is safe for concurrent use.
//
// With a TTL configured, a background goroutine removes snapshots for
// exposures that stopped publishing (closed shutter, crashed pipeline), so
// consumers never see stale forecasts presented as current. Multi-host
// deployments should use RedisStore instead.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot

	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopMu        sync.Mutex
	stopped       bool
}

// NewMemoryStore creates an in-memory snapshot store without expiration.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Snapshot)}
}

// NewMemoryStoreWithTTL creates an in-memory store whose snapshots expire
// after ttl. The cleanup goroutine runs every cleanupInterval (defaulting
// to one minute when <= 0) and must be shut down with Stop.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("storage: TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &MemoryStore{
		snapshots:     make(map[string]Snapshot),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	go s.runCleanup()
	return s
}

// Stop shuts down the cleanup goroutine of a TTL store. Safe to call more
// than once, and a no-op on a store without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for exposure, snap := range s.snapshots {
		if now.Sub(snap.GeneratedAt) > s.ttl {
			delete(s.snapshots, exposure)
		}
	}
}

// Put stores a snapshot, replacing any earlier one for the same exposure.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if snapshot.Exposure == "" {
		return fmt.Errorf("storage: snapshot exposure id cannot be empty")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Exposure] = snapshot
	return nil
}

// GetLatest returns the most recent snapshot for an exposure, with found
// reporting whether one exists.
func (s *MemoryStore) GetLatest(ctx context.Context, exposure string) (Snapshot, bool, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, found := s.snapshots[exposure]
	return snap, found, nil
}

// Len reports the number of stored snapshots. Mostly useful in tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes the snapshot for an exposure, reporting whether one
// existed.
func (s *MemoryStore) Delete(exposure string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.snapshots[exposure]
	delete(s.snapshots, exposure)
	return existed
}
