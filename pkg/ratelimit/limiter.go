// Package ratelimit bounds outbound traffic to the chess-data providers.
// Each provider gets an independent FIFO queue with a concurrency limit;
// a throttling signal from the provider pauses the queue, jobs keep
// accumulating, and dispatch resumes automatically after an exponential
// backoff or immediately on an operator signal.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/budapestdude/stats-sub007/pkg/stats"
)

// Provider identifies an upstream chess-data source.
type Provider string

// Supported providers.
const (
	ProviderChessCom Provider = "chesscom"
	ProviderLichess  Provider = "lichess"
)

// ErrThrottled marks a provider throttling signal (HTTP 429 or an
// equivalent rate-limit error code). Jobs wrap it so the limiter can
// distinguish throttling from ordinary failures: only ErrThrottled pauses
// a queue.
var ErrThrottled = errors.New("provider throttled")

// ErrUnknownProvider is returned for a provider without a queue.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrShuttingDown is returned when a job is submitted after Close.
var ErrShuttingDown = errors.New("rate limiter shutting down")

// Job is one outbound provider call. The returned error should wrap
// ErrThrottled when the provider signalled throttling.
type Job func(ctx context.Context) ([]byte, error)

// Policy is the pause/resume backoff policy. The exact figures are
// deployment configuration, not constants; verify them against the
// provider-documented limits.
type Policy struct {
	// InitialBackoff is the pause after the first throttle event.
	InitialBackoff time.Duration

	// Multiplier grows the pause per consecutive throttle event.
	Multiplier float64

	// MaxBackoff caps the pause duration.
	MaxBackoff time.Duration
}

// DefaultPolicy returns the default backoff policy (1s, doubling, 30s cap).
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: 1 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
	}
}

// Config holds per-provider queue configuration.
type Config struct {
	// Concurrency is the maximum number of in-flight jobs per provider.
	Concurrency int

	// QueueDepth bounds the pending FIFO. Submissions beyond it block
	// until space frees or the caller's context expires.
	QueueDepth int

	// Policy is the pause/resume backoff policy.
	Policy Policy
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		QueueDepth:  1024,
		Policy:      DefaultPolicy(),
	}
}

// QueueState is the observable state of one provider queue.
type QueueState struct {
	Provider Provider
	Size     int
	IsPaused bool
	Success  int64
	Failed   int64
	Queued   int64
}

// Limiter owns one queue per provider.
type Limiter struct {
	queues    map[Provider]*queue
	collector *stats.Collector
	logger    zerolog.Logger
}

// New creates a limiter with a queue per provider. The collector may be nil
// when only Prometheus metrics are wanted.
func New(providers []Provider, cfg Config, collector *stats.Collector, logger zerolog.Logger) *Limiter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.Policy.InitialBackoff <= 0 {
		cfg.Policy = DefaultPolicy()
	}

	l := &Limiter{
		queues:    make(map[Provider]*queue, len(providers)),
		collector: collector,
		logger:    logger,
	}
	for _, p := range providers {
		l.queues[p] = newQueue(p, cfg, collector, logger.With().Str("provider", string(p)).Logger())
	}
	return l
}

// Submit enqueues a job for the provider and blocks until it settles or the
// caller's context expires. Jobs run strictly in arrival order per provider.
// A caller that gives up does not cancel the job's slot in the queue.
func (l *Limiter) Submit(ctx context.Context, provider Provider, job Job) ([]byte, error) {
	q, ok := l.queues[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return q.submit(ctx, job)
}

// QueueState reports the state of one provider queue.
func (l *Limiter) QueueState(provider Provider) (QueueState, bool) {
	q, ok := l.queues[provider]
	if !ok {
		return QueueState{}, false
	}
	return q.state(), true
}

// ProviderStates reports every queue's state for stats aggregation.
func (l *Limiter) ProviderStates() []stats.ProviderState {
	out := make([]stats.ProviderState, 0, len(l.queues))
	for _, q := range l.queues {
		s := q.state()
		out = append(out, stats.ProviderState{
			Name:      string(s.Provider),
			Success:   s.Success,
			Failed:    s.Failed,
			Queued:    s.Queued,
			QueueSize: s.Size,
			IsPaused:  s.IsPaused,
		})
	}
	return out
}

// Resume lifts a provider's pause immediately. Operator signal; the
// automatic backoff timer is abandoned.
func (l *Limiter) Resume(provider Provider) bool {
	q, ok := l.queues[provider]
	if !ok {
		return false
	}
	q.forceResume()
	return true
}

// Close stops all dispatchers. Pending jobs fail with ErrShuttingDown.
func (l *Limiter) Close() {
	for _, q := range l.queues {
		q.close()
	}
}
