// Package fetcher performs one logical "get URL content" operation: a bounded
// concurrency slot, identity rotation, per-attempt timeouts, response
// classification and bounded retries with backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/metrics"
	"github.com/JakeFAU/property-monitor/internal/random"
)

// Config controls retry and request behavior.
type Config struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgents   []string      `mapstructure:"user_agents"`
	BlockMarkers []string      `mapstructure:"block_markers"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:  5,
		MaxAttempts:  3,
		Timeout:      15 * time.Second,
		BlockMarkers: append([]string(nil), DefaultBlockMarkers...),
	}
}

// Request is a single network attempt.
type Request struct {
	URL       string
	UserAgent string
}

// Response is the raw result of a network attempt. Non-2xx responses are
// returned with a nil error.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Getter issues one HTTP GET.
type Getter interface {
	Get(ctx context.Context, req Request) (Response, error)
}

// Limiter bounds the number of in-flight fetches. *semaphore.Weighted satisfies it.
type Limiter interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Backoff yields the wait before the next attempt.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Sleeper suspends until d elapses or ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Throttle optionally delays an attempt, e.g. per-host rate limiting.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher retries a Getter until it succeeds, is blocked or runs out of attempts.
type Fetcher struct {
	cfg        Config
	getter     Getter
	limiter    Limiter
	backoff    Backoff
	sleeper    Sleeper
	throttle   Throttle
	identities *IdentityPool
	detector   *BlockDetector
	logger     *zap.Logger
}

// New wires a Fetcher. throttle may be nil.
func New(
	cfg Config,
	getter Getter,
	limiter Limiter,
	backoff Backoff,
	sleeper Sleeper,
	throttle Throttle,
	src random.Source,
	logger *zap.Logger,
) (*Fetcher, error) {
	if getter == nil {
		return nil, errors.New("fetcher: getter is required")
	}
	if limiter == nil {
		return nil, errors.New("fetcher: limiter is required")
	}
	if backoff == nil {
		return nil, errors.New("fetcher: backoff is required")
	}
	if sleeper == nil {
		return nil, errors.New("fetcher: sleeper is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:        cfg,
		getter:     getter,
		limiter:    limiter,
		backoff:    backoff,
		sleeper:    sleeper,
		throttle:   throttle,
		identities: NewIdentityPool(cfg.UserAgents, src),
		detector:   NewBlockDetector(cfg.BlockMarkers),
		logger:     logger,
	}, nil
}

// Fetch retrieves target with up to maxAttempts requests. The concurrency slot
// is held for the whole call, including backoff sleeps. Every failure is
// reported through the returned Outcome, whose Attempts counts requests that
// reached the getter.
func (f *Fetcher) Fetch(ctx context.Context, target listing.FetchTarget, maxAttempts int) listing.Outcome {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log := f.logger.With(zap.String("url", target.URL))

	if err := f.limiter.Acquire(ctx, 1); err != nil {
		log.Warn("fetch slot not acquired", zap.Error(err))
		metrics.ObserveOutcome(listing.OutcomeExhausted.String())
		return listing.Exhausted(fmt.Errorf("acquire fetch slot: %w", err), 0)
	}
	metrics.IncInflight()
	defer func() {
		metrics.DecInflight()
		f.limiter.Release(1)
	}()

	var (
		lastErr error
		issued  int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		userAgent := f.identities.Pick()
		resp, verdict, sent, elapsed := f.attempt(ctx, target, userAgent)
		if sent {
			issued++
		}
		metrics.ObserveAttempt(verdict.Reason)

		fields := []zap.Field{
			zap.Int("attempt", attempt),
			zap.String("user_agent", userAgent),
			zap.String("reason", verdict.Reason),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", elapsed),
		}
		switch verdict.Verdict {
		case VerdictSuccess:
			log.Info("fetch succeeded", fields...)
			metrics.ObserveOutcome(listing.OutcomeSuccess.String())
			return listing.Success(resp.Body, issued)
		case VerdictBlocked:
			log.Warn("fetch blocked", fields...)
			metrics.ObserveOutcome(listing.OutcomeBlocked.String())
			return listing.Blocked(issued)
		}

		lastErr = verdict.Err
		log.Warn("fetch attempt failed", append(fields, zap.Error(verdict.Err))...)
		if attempt == maxAttempts {
			break
		}
		delay := f.backoff.Delay(attempt)
		metrics.ObserveBackoff(delay)
		log.Debug("waiting before retry", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		if err := f.sleeper.Sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("backoff interrupted after attempt %d: %w", attempt, err)
			break
		}
	}

	log.Error("fetch exhausted", zap.Int("attempts", issued), zap.Error(lastErr))
	metrics.ObserveOutcome(listing.OutcomeExhausted.String())
	return listing.Exhausted(lastErr, issued)
}

func (f *Fetcher) attempt(
	ctx context.Context,
	target listing.FetchTarget,
	userAgent string,
) (resp Response, verdict Classification, sent bool, elapsed time.Duration) {
	start := time.Now()
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx, target.URL); err != nil {
			err = fmt.Errorf("throttle wait: %w", err)
			return Response{}, Classify(Response{}, err, f.detector), false, time.Since(start)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	resp, err := f.getter.Get(attemptCtx, Request{URL: target.URL, UserAgent: userAgent})
	return resp, Classify(resp, err, f.detector), true, time.Since(start)
}
