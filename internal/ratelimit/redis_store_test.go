package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScripter evaluates the hit script against an in-process clock.
type fakeScripter struct {
	redis.Scripter

	now    time.Time
	counts map[string]int64
	expiry map[string]time.Time
	keys   []string
}

func newFakeScripter(now time.Time) *fakeScripter {
	return &fakeScripter{now: now, counts: map[string]int64{}, expiry: map[string]time.Time{}}
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	key := keys[0]
	f.keys = append(f.keys, key)
	windowMs := args[0].(int64)

	if exp, ok := f.expiry[key]; ok && !f.now.Before(exp) {
		delete(f.counts, key)
		delete(f.expiry, key)
	}

	f.counts[key]++
	if f.counts[key] == 1 {
		f.expiry[key] = f.now.Add(time.Duration(windowMs) * time.Millisecond)
	}
	ttl := f.expiry[key].Sub(f.now).Milliseconds()

	cmd := redis.NewCmd(ctx)
	cmd.SetVal([]interface{}{f.counts[key], ttl})
	return cmd
}

func TestRedisStoreFixedWindow(t *testing.T) {
	fake := newFakeScripter(epoch)
	l := New(NewRedisStore(fake, WithKeyPrefix("bulk:rl:")), 2, time.Minute)
	ctx := context.Background()

	d, err := l.Check(ctx, "10.0.0.1", epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, epoch.Add(time.Minute), d.ResetTime)

	fake.now = epoch.Add(20 * time.Second)
	_, err = l.Check(ctx, "10.0.0.1", fake.now)
	require.NoError(t, err)

	d, err = l.Check(ctx, "10.0.0.1", fake.now)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 40*time.Second, d.RetryAfter)

	fake.now = epoch.Add(time.Minute)
	d, err = l.Check(ctx, "10.0.0.1", fake.now)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)

	assert.Equal(t, "bulk:rl:10.0.0.1", fake.keys[0])
}
