package anonymizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeCache is an in-memory stand-in for the Redis-backed cache.
type fakeCache struct {
	mu      sync.Mutex
	values  map[string]string
	failGet bool
	failSet bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return "", false, errors.New("cache unavailable")
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return false, errors.New("cache unavailable")
	}
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func TestGetDailySalt_SameDayStable(t *testing.T) {
	cache := newFakeCache()
	a := New(cache, zaptest.NewLogger(t))

	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	s1, err := a.GetDailySalt(context.Background(), now)
	require.NoError(t, err)

	s2, err := a.GetDailySalt(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}

func TestGetDailySalt_DifferentDayDiffers(t *testing.T) {
	cache := newFakeCache()
	a := New(cache, zaptest.NewLogger(t))

	day1 := time.Date(2026, 7, 29, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	s1, err := a.GetDailySalt(context.Background(), day1)
	require.NoError(t, err)
	s2, err := a.GetDailySalt(context.Background(), day2)
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
}

func TestGetDailySalt_LostRaceReadsWinner(t *testing.T) {
	cache := newFakeCache()
	a1 := New(cache, zaptest.NewLogger(t))
	a2 := New(cache, zaptest.NewLogger(t))

	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	s1, err := a1.GetDailySalt(context.Background(), now)
	require.NoError(t, err)
	s2, err := a2.GetDailySalt(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}

func TestGetDailySalt_CacheUnavailableFallsBackLocally(t *testing.T) {
	cache := newFakeCache()
	cache.failGet = true
	cache.failSet = true
	a := New(cache, zaptest.NewLogger(t))

	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	s1, err := a.GetDailySalt(context.Background(), now)
	require.NoError(t, err)
	require.NotEmpty(t, s1)

	s2, err := a.GetDailySalt(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "local fallback salt must stay stable within the same day")
}

func TestSalt_Deterministic(t *testing.T) {
	assert.Equal(t, Salt("raw-id", "salt-a"), Salt("raw-id", "salt-a"))
	assert.NotEqual(t, Salt("raw-id", "salt-a"), Salt("raw-id", "salt-b"))
	assert.NotEqual(t, Salt("raw-id-1", "salt-a"), Salt("raw-id-2", "salt-a"))
}
