package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type fakeCache struct {
	mu      sync.Mutex
	claimed map[string]time.Duration
	fail    bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{claimed: map[string]time.Duration{}}
}

func (f *fakeCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, errors.New("cache unavailable")
	}
	if _, exists := f.claimed[key]; exists {
		return false, nil
	}
	f.claimed[key] = ttl
	return true, nil
}

func TestCheck_FirstSeenThenDuplicate(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, zaptest.NewLogger(t), nil)

	first := d.Check(context.Background(), "error", "e1")
	assert.True(t, first.FirstSeen)
	assert.False(t, first.Duplicate)

	second := d.Check(context.Background(), "error", "e1")
	assert.True(t, second.Duplicate)
	assert.False(t, second.FirstSeen)
}

func TestCheck_EmptyEventIDAlwaysFirstSeen(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, zaptest.NewLogger(t), nil)

	r1 := d.Check(context.Background(), "track", "")
	r2 := d.Check(context.Background(), "track", "")
	assert.True(t, r1.FirstSeen)
	assert.True(t, r2.FirstSeen)
}

func TestCheck_ExitPrefixUsesLongerTTL(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, zaptest.NewLogger(t), nil)

	d.Check(context.Background(), "track", "exit_session_end")
	ttl := cache.claimed["dedup:track:exit_session_end"]
	assert.Equal(t, ttlExit, ttl)
}

func TestCheck_DefaultTTL(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, zaptest.NewLogger(t), nil)

	d.Check(context.Background(), "track", "regular_event")
	ttl := cache.claimed["dedup:track:regular_event"]
	assert.Equal(t, ttlDefault, ttl)
}

func TestCheck_CacheUnavailableFailsOpen(t *testing.T) {
	cache := newFakeCache()
	cache.fail = true
	d := New(cache, zaptest.NewLogger(t), nil)

	result := d.Check(context.Background(), "error", "e1")
	assert.True(t, result.FirstSeen)
	assert.False(t, result.Duplicate)
}
