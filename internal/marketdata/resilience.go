package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
)

// ResilienceConfig tunes pacing, retry-storm caps, and breaker trip
// thresholds for a provider (spec.md §4.2).
type ResilienceConfig struct {
	// RequestsPerSecond/Burst pace normal traffic with a token bucket.
	RequestsPerSecond float64
	Burst             int

	// RetryStormLimit bounds retries per client ID within RetryStormWindow;
	// exceeding it surfaces RateLimited immediately instead of retrying.
	RetryStormLimit  int64
	RetryStormWindow time.Duration

	// BaseBackoff/MaxBackoff bound the full-jitter backoff used between
	// retries of a RateLimited/ConnectionLost call.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxRetries  int

	BarsTimeout   time.Duration
	StatusTimeout time.Duration
}

// DefaultResilienceConfig matches spec.md §4.2: base 1s/cap 60s full-jitter
// backoff, retry-storm cap of 3 attempts per client ID, 30s bar-fetch /
// 5s status-check timeouts.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		RetryStormLimit:   3,
		RetryStormWindow:  time.Minute,
		BaseBackoff:       time.Second,
		MaxBackoff:        60 * time.Second,
		MaxRetries:        5,
		BarsTimeout:       30 * time.Second,
		StatusTimeout:     5 * time.Second,
	}
}

// Resilience wraps an underlying Provider with pacing, a retry-storm cap
// keyed by client ID, and a connection-lifecycle circuit breaker. Grounded
// on the teacher's RateLimiter (golang.org/x/time/rate token bucket) and
// CircuitBreakerFactory (sony/gobreaker) — unified here around a single
// provider instead of a name-keyed factory, because one provider handle
// owns exactly one upstream connection.
type Resilience struct {
	clientID string
	cfg      ResilienceConfig
	logger   *zap.Logger

	pacer   *rate.Limiter
	storm   *limiter.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewResilience builds the wrapper for one provider connection, identified
// by clientID (used as the retry-storm limiter key).
func NewResilience(clientID string, cfg ResilienceConfig, logger *zap.Logger) *Resilience {
	stormStore := memory.NewStore()
	stormLimiter := limiter.New(stormStore, limiter.Rate{
		Period: cfg.RetryStormWindow,
		Limit:  cfg.RetryStormLimit,
	})

	settings := gobreaker.Settings{
		Name:        "marketdata-" + clientID,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state change",
				zap.String("client_id", clientID), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Resilience{
		clientID: clientID,
		cfg:      cfg,
		logger:   logger,
		pacer:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		storm:    stormLimiter,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// Do paces, circuit-breaks, and retries fn with full-jitter backoff. fn
// must itself classify its error with a pkg/errors Kind; Do retries only
// RateLimited and ConnectionLost, per spec.md §4.3's failure policy.
func (r *Resilience) Do(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error
	backoff := r.cfg.BaseBackoff
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := r.pacer.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.Cancelled, "pacer wait cancelled")
		}

		result, err := r.breaker.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errors.Wrap(err, errors.ConnectionLost, "circuit breaker open")
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}

		stormCtx, err := r.storm.Get(ctx, r.clientID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ConnectionLost, "retry-storm limiter unavailable")
		}
		if stormCtx.Reached {
			return nil, errors.New(errors.RateLimited, "retry-storm cap reached for client").
				WithContext("client_id", r.clientID)
		}

		jittered := fullJitter(backoff)
		r.logger.Debug("retrying market data call", zap.String("client_id", r.clientID),
			zap.Int("attempt", attempt), zap.Duration("backoff", jittered))
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.Cancelled, "context cancelled during retry backoff")
		case <-time.After(jittered):
		}
		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", r.cfg.MaxRetries, lastErr)
}

// fullJitter implements the AWS-style full-jitter backoff: a uniform
// random duration in [0, ceiling). Do passes ceiling =
// min(MaxBackoff, BaseBackoff*2^attempt).
func fullJitter(ceiling time.Duration) time.Duration {
	return time.Duration(pseudoRand(int64(ceiling)))
}

// pseudoRand returns a deterministic-seed-free pseudo-random value in
// [0,n) without depending on math/rand's global seed state, so repeated
// backoff computations within one process don't correlate. Resilience.Do
// fans out across goroutines (DataManager's per-range fetches), so the
// xorshift state is guarded by a mutex rather than left a bare global.
var (
	randMu    sync.Mutex
	randState int64 = 0x2545F4914F6CDD1D
)

func pseudoRand(n int64) int64 {
	if n <= 0 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	randState ^= randState << 13
	randState ^= randState >> 7
	randState ^= randState << 17
	if randState < 0 {
		randState = -randState
	}
	return randState % n
}
