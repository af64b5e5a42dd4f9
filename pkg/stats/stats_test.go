package stats

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestCollector_TakeSnapshot(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 3; i++ {
		c.RecordHit()
	}
	c.RecordMiss()
	c.RecordError()
	c.RecordWrite()
	c.RecordDeletes(5)
	c.RecordBlocked()
	for i := 0; i < 3; i++ {
		c.RecordPassed()
	}

	providers := []ProviderState{
		{Name: "chesscom", Success: 2, Failed: 1, Queued: 4, QueueSize: 1, IsPaused: true},
		{Name: "lichess", Success: 7, Queued: 7},
	}

	snap := c.TakeSnapshot("distributed", true, providers)

	if snap.Cache.Hits != 3 || snap.Cache.Misses != 1 {
		t.Errorf("Unexpected hit/miss counts: %+v", snap.Cache)
	}
	if snap.Cache.HitRate != 0.75 {
		t.Errorf("Expected hit rate 0.75, got %v", snap.Cache.HitRate)
	}
	if snap.Cache.Errors != 1 || snap.Cache.Writes != 1 || snap.Cache.Deletes != 5 {
		t.Errorf("Unexpected counters: %+v", snap.Cache)
	}
	if snap.Cache.Backend != "distributed" || !snap.Cache.Available {
		t.Errorf("Unexpected backend state: %+v", snap.Cache)
	}
	if snap.Cache.UptimeSeconds < 0 {
		t.Errorf("Uptime should be non-negative, got %v", snap.Cache.UptimeSeconds)
	}

	if snap.RateLimit.Blocked != 1 || snap.RateLimit.Passed != 3 {
		t.Errorf("Unexpected rate-limit counters: %+v", snap.RateLimit)
	}
	if snap.RateLimit.BlockRate != 0.25 {
		t.Errorf("Expected block rate 0.25, got %v", snap.RateLimit.BlockRate)
	}
	if snap.RateLimit.Queued != 11 {
		t.Errorf("Expected 11 queued total, got %d", snap.RateLimit.Queued)
	}

	cc, ok := snap.RateLimit.PerProvider["chesscom"]
	if !ok {
		t.Fatal("Expected chesscom provider snapshot")
	}
	if cc.Success != 2 || cc.Failed != 1 || cc.QueueSize != 1 || !cc.IsPaused {
		t.Errorf("Unexpected chesscom snapshot: %+v", cc)
	}
}

func TestCollector_EmptySnapshotRates(t *testing.T) {
	c := NewCollector()

	snap := c.TakeSnapshot("local", false, nil)
	if snap.Cache.HitRate != 0 {
		t.Errorf("Hit rate with no traffic should be 0, got %v", snap.Cache.HitRate)
	}
	if snap.RateLimit.BlockRate != 0 {
		t.Errorf("Block rate with no traffic should be 0, got %v", snap.RateLimit.BlockRate)
	}
	if snap.Cache.Available {
		t.Error("Expected backend unavailable")
	}
}

func TestSnapshot_JSONFieldNames(t *testing.T) {
	c := NewCollector()
	c.RecordHit()

	snap := c.TakeSnapshot("distributed", true, []ProviderState{{Name: "chesscom"}})
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	body := string(data)
	for _, field := range []string{
		`"hitRate"`, `"uptime"`, `"blockRate"`, `"perProvider"`, `"queueSize"`, `"isPaused"`,
	} {
		if !strings.Contains(body, field) {
			t.Errorf("Expected JSON field %s in %s", field, body)
		}
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordHit()
				c.RecordMiss()
				c.RecordPassed()
			}
		}()
	}
	wg.Wait()

	snap := c.TakeSnapshot("local", false, nil)
	if snap.Cache.Hits != 1000 || snap.Cache.Misses != 1000 {
		t.Errorf("Lost updates under concurrency: %+v", snap.Cache)
	}
	if snap.RateLimit.Passed != 1000 {
		t.Errorf("Expected 1000 passed, got %d", snap.RateLimit.Passed)
	}
}
