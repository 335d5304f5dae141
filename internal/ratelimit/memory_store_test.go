package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSweepRemovesExpired(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := s.Hit(ctx, fmt.Sprintf("old-%d", i), epoch, time.Second)
		require.NoError(t, err)
	}
	_, err := s.Hit(ctx, "fresh", epoch.Add(5*time.Second), time.Second)
	require.NoError(t, err)
	require.Equal(t, 51, s.Len())

	removed := s.Sweep(epoch.Add(5 * time.Second))
	assert.Equal(t, 50, removed)
	assert.Equal(t, 1, s.Len())

	// an entry whose reset time equals now is kept
	assert.Equal(t, 0, s.Sweep(epoch.Add(6*time.Second)))
	assert.Equal(t, 1, s.Sweep(epoch.Add(6*time.Second+time.Nanosecond)))
}

func TestMemoryStoreBackgroundSweep(t *testing.T) {
	s := NewMemoryStore(5 * time.Millisecond)
	s.now = func() time.Time { return epoch.Add(time.Hour) }

	_, err := s.Hit(context.Background(), "k", epoch, time.Second)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreStartStop(t *testing.T) {
	s := NewMemoryStore(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)
	s.Stop()
	s.Stop()

	// restartable after Stop
	s.Start(ctx)
	s.Stop()
}

func TestMemoryStoreHitDuringSweep(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.Sweep(epoch.Add(time.Duration(i) * time.Millisecond))
		}
	}()
	for i := 0; i < 200; i++ {
		_, err := s.Hit(ctx, fmt.Sprintf("k-%d", i%10), epoch.Add(time.Duration(i)*time.Millisecond), time.Second)
		require.NoError(t, err)
	}
	<-done
}
