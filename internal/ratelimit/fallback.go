package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coursepay/payments/internal/metrics"
)

// FallbackStore serves from primary and degrades to local when primary errors.
// Degradation is logged at most once per warnEvery.
type FallbackStore struct {
	primary   Store
	local     Store
	timeout   time.Duration
	log       *slog.Logger
	warnEvery time.Duration

	mu       sync.Mutex
	lastWarn time.Time
}

func NewFallbackStore(primary, local Store, timeout time.Duration, log *slog.Logger) *FallbackStore {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackStore{primary: primary, local: local, timeout: timeout, log: log, warnEvery: 30 * time.Second}
}

func (s *FallbackStore) Take(ctx context.Context, key string, quota int, ttl time.Duration) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	ok, err := s.primary.Take(pctx, key, quota, ttl)
	cancel()
	if err == nil {
		return ok, nil
	}
	metrics.LimiterFallbacks.Inc()
	s.warn(err)
	return s.local.Take(ctx, key, quota, ttl)
}

func (s *FallbackStore) warn(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastWarn) < s.warnEvery {
		return
	}
	s.lastWarn = time.Now()
	s.log.Warn("rate limit store degraded to in-process counters", "err", err)
}
