package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/budapestdude/stats-sub007/pkg/stats"
)

type result struct {
	data []byte
	err  error
}

type submission struct {
	job        Job
	ctx        context.Context
	done       chan result // buffered; the runner never blocks on a gone caller
	enqueuedAt time.Time
}

// queue is one provider's FIFO. A single dispatcher goroutine preserves
// strict arrival order: it pulls the next submission, waits out any pause,
// takes a concurrency slot, and hands the job to a runner goroutine.
type queue struct {
	provider  Provider
	policy    Policy
	subs      chan *submission
	sem       chan struct{}
	collector *stats.Collector
	logger    zerolog.Logger

	mu            sync.Mutex
	paused        bool
	resumeAt      time.Time
	nextBackoff   time.Duration
	awaitingReset bool
	resumeCh      chan struct{}

	pending atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	queued  atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

func newQueue(provider Provider, cfg Config, collector *stats.Collector, logger zerolog.Logger) *queue {
	q := &queue{
		provider:    provider,
		policy:      cfg.Policy,
		subs:        make(chan *submission, cfg.QueueDepth),
		sem:         make(chan struct{}, cfg.Concurrency),
		collector:   collector,
		logger:      logger,
		nextBackoff: cfg.Policy.InitialBackoff,
		resumeCh:    make(chan struct{}),
		stop:        make(chan struct{}),
	}
	go q.dispatch()
	return q
}

func (q *queue) submit(ctx context.Context, job Job) ([]byte, error) {
	select {
	case <-q.stop:
		return nil, ErrShuttingDown
	default:
	}

	sub := &submission{
		job:        job,
		ctx:        ctx,
		done:       make(chan result, 1),
		enqueuedAt: time.Now(),
	}

	q.pending.Add(1)
	QueueDepth.WithLabelValues(string(q.provider)).Set(float64(q.pending.Load()))

	select {
	case q.subs <- sub:
	case <-ctx.Done():
		q.pending.Add(-1)
		return nil, ctx.Err()
	case <-q.stop:
		q.pending.Add(-1)
		return nil, ErrShuttingDown
	}

	// Counted only once the submission is actually in line; an enqueue
	// aborted by the caller or shutdown leaves the counters untouched.
	q.queued.Add(1)
	if q.isPaused() && q.collector != nil {
		q.collector.RecordBlocked()
	}

	select {
	case res := <-sub.done:
		return res.data, res.err
	case <-ctx.Done():
		// The job keeps its place in line; other waiters may still need
		// the fetch. Only this caller's response is abandoned.
		return nil, ctx.Err()
	}
}

func (q *queue) dispatch() {
	for {
		select {
		case <-q.stop:
			q.drain()
			return
		case sub := <-q.subs:
			if !q.waitWhilePaused() {
				sub.done <- result{err: ErrShuttingDown}
				q.settle()
				q.drain()
				return
			}
			select {
			case q.sem <- struct{}{}:
			case <-q.stop:
				sub.done <- result{err: ErrShuttingDown}
				q.settle()
				q.drain()
				return
			}
			if q.collector != nil {
				q.collector.RecordPassed()
			}
			go q.run(sub)
		}
	}
}

func (q *queue) run(sub *submission) {
	defer func() { <-q.sem }()

	data, err := sub.job(sub.ctx)
	q.settle()

	if err != nil {
		q.failed.Add(1)
		Dispatches.WithLabelValues(string(q.provider), "failure").Inc()
		if errors.Is(err, ErrThrottled) {
			q.pauseForThrottle()
		}
	} else {
		q.success.Add(1)
		Dispatches.WithLabelValues(string(q.provider), "success").Inc()
		q.noteCleanDispatch()
	}

	sub.done <- result{data: data, err: err}
}

func (q *queue) settle() {
	q.pending.Add(-1)
	QueueDepth.WithLabelValues(string(q.provider)).Set(float64(q.pending.Load()))
}

// pauseForThrottle marks the queue paused and schedules automatic resume.
// Each consecutive throttle event grows the backoff up to the policy cap;
// the first clean dispatch after a resume shrinks it back to the base.
func (q *queue) pauseForThrottle() {
	q.mu.Lock()
	delay := q.nextBackoff
	q.paused = true
	q.resumeAt = time.Now().Add(delay)
	q.awaitingReset = true
	next := time.Duration(float64(delay) * q.policy.Multiplier)
	if next > q.policy.MaxBackoff {
		next = q.policy.MaxBackoff
	}
	q.nextBackoff = next
	q.resumeCh = make(chan struct{})
	q.mu.Unlock()

	Pauses.WithLabelValues(string(q.provider)).Inc()
	Paused.WithLabelValues(string(q.provider)).Set(1)
	BackoffSeconds.WithLabelValues(string(q.provider)).Observe(delay.Seconds())

	q.logger.Warn().
		Dur("backoff", delay).
		Time("resume_at", q.resumeAt).
		Msg("Provider throttled, pausing queue")
}

func (q *queue) noteCleanDispatch() {
	q.mu.Lock()
	if q.awaitingReset && !q.paused {
		q.nextBackoff = q.policy.InitialBackoff
		q.awaitingReset = false
	}
	q.mu.Unlock()
}

// waitWhilePaused holds the dispatcher until the pause lifts, either by the
// backoff deadline or an operator resume. Returns false on shutdown.
func (q *queue) waitWhilePaused() bool {
	for {
		q.mu.Lock()
		if !q.paused {
			q.mu.Unlock()
			return true
		}
		wait := time.Until(q.resumeAt)
		resumeCh := q.resumeCh
		q.mu.Unlock()

		if wait <= 0 {
			q.unpause("backoff elapsed")
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			q.unpause("backoff elapsed")
		case <-resumeCh:
			// operator resume already cleared the pause
		case <-q.stop:
			timer.Stop()
			return false
		}
		timer.Stop()
	}
}

func (q *queue) unpause(reason string) {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.mu.Unlock()

	Paused.WithLabelValues(string(q.provider)).Set(0)
	q.logger.Info().Str("reason", reason).Msg("Provider queue resumed")
}

// forceResume lifts the pause immediately (operator signal).
func (q *queue) forceResume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	close(q.resumeCh)
	q.mu.Unlock()

	Paused.WithLabelValues(string(q.provider)).Set(0)
	q.logger.Info().Msg("Provider queue resumed by operator")
}

func (q *queue) isPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func (q *queue) state() QueueState {
	return QueueState{
		Provider: q.provider,
		Size:     int(q.pending.Load()),
		IsPaused: q.isPaused(),
		Success:  q.success.Load(),
		Failed:   q.failed.Load(),
		Queued:   q.queued.Load(),
	}
}

func (q *queue) close() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// drain fails everything still queued after shutdown.
func (q *queue) drain() {
	for {
		select {
		case sub := <-q.subs:
			sub.done <- result{err: ErrShuttingDown}
			q.settle()
		default:
			return
		}
	}
}
