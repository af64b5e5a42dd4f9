package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/budapestdude/stats-sub007/pkg/stats"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l := New([]Provider{ProviderChessCom, ProviderLichess}, cfg, stats.NewCollector(), zerolog.Nop())
	t.Cleanup(l.Close)
	return l
}

func fastPolicy() Policy {
	return Policy{
		InitialBackoff: 50 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     200 * time.Millisecond,
	}
}

func TestLimiter_SubmitSuccess(t *testing.T) {
	l := newTestLimiter(t, DefaultConfig())

	data, err := l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return []byte(`{"rating": 2843}`), nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if string(data) != `{"rating": 2843}` {
		t.Errorf("Unexpected data: %s", data)
	}

	state, ok := l.QueueState(ProviderChessCom)
	if !ok {
		t.Fatal("Expected queue state for known provider")
	}
	if state.Success != 1 {
		t.Errorf("Expected 1 success, got %d", state.Success)
	}
	if state.Queued != 1 {
		t.Errorf("Expected 1 queued, got %d", state.Queued)
	}
}

func TestLimiter_UnknownProvider(t *testing.T) {
	l := newTestLimiter(t, DefaultConfig())

	_, err := l.Submit(context.Background(), Provider("fide"), func(ctx context.Context) ([]byte, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
}

func TestLimiter_JobErrorCountsFailed(t *testing.T) {
	l := newTestLimiter(t, DefaultConfig())
	wantErr := errors.New("boom")

	_, err := l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected job error, got %v", err)
	}

	state, _ := l.QueueState(ProviderChessCom)
	if state.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", state.Failed)
	}
	if state.IsPaused {
		t.Error("Ordinary failure must not pause the queue")
	}
}

func TestLimiter_FIFOOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	l := newTestLimiter(t, cfg)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}(i)
		// Stagger submissions so arrival order is unambiguous.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("Jobs ran out of order: %v", order)
		}
	}
}

func TestLimiter_ThrottlePausesQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = fastPolicy()
	l := newTestLimiter(t, cfg)

	_, err := l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return nil, fmt.Errorf("status 429: %w", ErrThrottled)
	})
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("Expected throttle error, got %v", err)
	}

	state, _ := l.QueueState(ProviderChessCom)
	if !state.IsPaused {
		t.Fatal("Queue should pause after a throttle signal")
	}

	// The next job waits out the backoff before dispatching.
	start := time.Now()
	_, err = l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("Submit after throttle failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Job dispatched before backoff elapsed (%v)", elapsed)
	}

	state, _ = l.QueueState(ProviderChessCom)
	if state.IsPaused {
		t.Error("Queue should resume after backoff")
	}
}

func TestLimiter_ThrottleDoesNotAffectOtherProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = fastPolicy()
	l := newTestLimiter(t, cfg)

	l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return nil, ErrThrottled
	})

	start := time.Now()
	_, err := l.Submit(context.Background(), ProviderLichess, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("Other provider's queue should not be paused (%v)", elapsed)
	}
}

func TestLimiter_ForceResume(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = Policy{
		InitialBackoff: 10 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
	}
	l := newTestLimiter(t, cfg)

	l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return nil, ErrThrottled
	})

	state, _ := l.QueueState(ProviderChessCom)
	if !state.IsPaused {
		t.Fatal("Queue should be paused")
	}

	if !l.Resume(ProviderChessCom) {
		t.Fatal("Resume should succeed for a known provider")
	}
	if l.Resume(Provider("fide")) {
		t.Error("Resume should fail for an unknown provider")
	}

	// Dispatch proceeds immediately, long before the 10s backoff.
	start := time.Now()
	_, err := l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("Submit after resume failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Resume should lift the pause immediately (%v)", elapsed)
	}
}

func TestQueue_BackoffGrowsAndResets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = fastPolicy()
	l := newTestLimiter(t, cfg)
	q := l.queues[ProviderChessCom]

	throttle := func() {
		l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
			return nil, ErrThrottled
		})
	}

	throttle()
	q.mu.Lock()
	after1 := q.nextBackoff
	q.mu.Unlock()
	if after1 != 100*time.Millisecond {
		t.Errorf("Expected backoff 100ms after first throttle, got %v", after1)
	}

	throttle()
	q.mu.Lock()
	after2 := q.nextBackoff
	q.mu.Unlock()
	if after2 != 200*time.Millisecond {
		t.Errorf("Expected backoff 200ms after second throttle, got %v", after2)
	}

	// Capped at MaxBackoff.
	throttle()
	q.mu.Lock()
	after3 := q.nextBackoff
	q.mu.Unlock()
	if after3 != 200*time.Millisecond {
		t.Errorf("Expected backoff capped at 200ms, got %v", after3)
	}

	// One clean dispatch after the pause lifts resets the schedule.
	_, err := l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	q.mu.Lock()
	afterClean := q.nextBackoff
	q.mu.Unlock()
	if afterClean != cfg.Policy.InitialBackoff {
		t.Errorf("Expected backoff reset to %v, got %v", cfg.Policy.InitialBackoff, afterClean)
	}
}

func TestLimiter_CallerContextExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	l := newTestLimiter(t, cfg)

	blocker := make(chan struct{})
	go l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		<-blocker
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := l.Submit(ctx, ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return []byte("late"), nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}

	close(blocker)
}

func TestLimiter_AbortedEnqueueNotCounted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.QueueDepth = 1
	l := newTestLimiter(t, cfg)

	// One job holds the dispatch slot, one sits with the dispatcher at the
	// semaphore, one fills the queue buffer.
	blocker := make(chan struct{})
	defer close(blocker)
	for i := 0; i < 3; i++ {
		go l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
			<-blocker
			return nil, nil
		})
		time.Sleep(20 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := l.Submit(ctx, ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return []byte("late"), nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}

	state, _ := l.QueueState(ProviderChessCom)
	if state.Queued != 3 {
		t.Errorf("Aborted enqueue must not count as queued, got %d", state.Queued)
	}
}

func TestLimiter_SubmitAfterClose(t *testing.T) {
	l := New([]Provider{ProviderChessCom}, DefaultConfig(), nil, zerolog.Nop())
	l.Close()

	_, err := l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
}

func TestLimiter_ProviderStates(t *testing.T) {
	l := newTestLimiter(t, DefaultConfig())

	l.Submit(context.Background(), ProviderChessCom, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})

	states := l.ProviderStates()
	if len(states) != 2 {
		t.Fatalf("Expected 2 provider states, got %d", len(states))
	}

	byName := make(map[string]stats.ProviderState, len(states))
	for _, s := range states {
		byName[s.Name] = s
	}
	if byName["chesscom"].Success != 1 {
		t.Errorf("Expected chesscom success 1, got %d", byName["chesscom"].Success)
	}
	if byName["lichess"].Queued != 0 {
		t.Errorf("Expected lichess untouched, got %+v", byName["lichess"])
	}
}
