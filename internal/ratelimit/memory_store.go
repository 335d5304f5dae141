package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// MemoryStore keeps window state in process memory, spread over shards so
// that different keys rarely contend on the same lock.
type MemoryStore struct {
	shards [shardCount]shard
	every  time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore returns an empty store whose sweep, once started, runs
// every sweepEvery.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	s := &MemoryStore{every: sweepEvery, now: time.Now}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*Entry)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

// Hit implements Store.
func (s *MemoryStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok || now.After(entry.ResetTime) {
		entry = &Entry{Count: 1, ResetTime: now.Add(window)}
		sh.entries[key] = entry
		return *entry, nil
	}
	entry.Count++
	return *entry, nil
}

// Len reports how many keys are tracked.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Sweep removes every entry whose window ended before now and returns how
// many were removed. Shards are locked one at a time.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if entry.ResetTime.Before(now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Start launches the periodic sweep. It stops when ctx is cancelled or Stop
// is called. Calling Start on a running store is a no-op.
func (s *MemoryStore) Start(ctx context.Context) {
	if s.every <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	t := time.NewTicker(s.every)
	go func(done chan struct{}) {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(s.now())
			}
		}
	}(s.done)
}

// Stop halts the sweep and waits for it to exit.
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
