// Package anonymizer implements the daily-rotating salt and keyed hash
// described in spec §4.B.
package anonymizer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	dayMillis = 86_400_000
	saltTTL   = 24 * time.Hour
)

// Cache is the subset of the shared cache the Anonymizer needs.
type Cache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

// Anonymizer computes salted anonymous ids on a daily-rotating key.
type Anonymizer struct {
	cache  Cache
	logger *zap.Logger

	mu         sync.Mutex
	localDay   int64
	localSalt  string
}

// New constructs an Anonymizer backed by cache.
func New(cache Cache, logger *zap.Logger) *Anonymizer {
	return &Anonymizer{cache: cache, logger: logger}
}

func currentDay(now time.Time) int64 {
	return now.UnixMilli() / dayMillis
}

// GetDailySalt returns today's salt, generating and racing-safely publishing
// a fresh one on first use of the day (spec §4.B).
//
// If the shared cache is unavailable, it falls back to a process-local
// ephemeral salt for the current day, logging a warning — this sacrifices
// cross-replica agreement for availability, per the documented open
// question in spec §9.
func (a *Anonymizer) GetDailySalt(ctx context.Context, now time.Time) (string, error) {
	day := currentDay(now)
	key := fmt.Sprintf("salt:%d", day)

	if existing, ok, err := a.cache.Get(ctx, key); err == nil && ok {
		return existing, nil
	} else if err != nil {
		return a.localFallback(day), nil
	}

	fresh, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	set, err := a.cache.SetNX(ctx, key, fresh, saltTTL)
	if err != nil {
		return a.localFallback(day), nil
	}
	if set {
		return fresh, nil
	}

	// Lost the race — read back the winner's value.
	winner, ok, err := a.cache.Get(ctx, key)
	if err != nil || !ok {
		return a.localFallback(day), nil
	}
	return winner, nil
}

// localFallback returns (and lazily creates) a process-local salt for day,
// logging once per rotation.
func (a *Anonymizer) localFallback(day int64) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.localDay == day && a.localSalt != "" {
		return a.localSalt
	}

	salt, err := randomHex(32)
	if err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to a
		// fixed marker rather than panicking the request path.
		salt = "unavailable"
	}
	a.localDay = day
	a.localSalt = salt
	if a.logger != nil {
		a.logger.Warn("shared salt cache unavailable, using ephemeral local salt",
			zap.Int64("day", day))
	}
	return salt
}

// Salt returns SHA-256(rawID ∥ salt) hex-encoded (spec invariant 1).
func Salt(rawID, salt string) string {
	h := sha256.Sum256([]byte(rawID + salt))
	return hex.EncodeToString(h[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
