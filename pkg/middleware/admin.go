package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/budapestdude/stats-sub007/pkg/cache"
	"github.com/budapestdude/stats-sub007/pkg/ratelimit"
	"github.com/budapestdude/stats-sub007/pkg/stats"
)

// AdminStore is the store surface the administrative endpoints need.
// *cache.Tiered satisfies it.
type AdminStore interface {
	cache.Store
	Available() bool
}

// Admin serves the operator endpoints: stats, manual invalidation, warmup,
// and queue resume. These are the only places cache-layer failures surface
// to a caller.
type Admin struct {
	store     AdminStore
	limiter   *ratelimit.Limiter
	collector *stats.Collector
	warmer    *cache.Warmer
	logger    zerolog.Logger
}

// NewAdmin creates the administrative handler set.
func NewAdmin(store AdminStore, limiter *ratelimit.Limiter, collector *stats.Collector, warmer *cache.Warmer, logger zerolog.Logger) *Admin {
	return &Admin{
		store:     store,
		limiter:   limiter,
		collector: collector,
		warmer:    warmer,
		logger:    logger,
	}
}

// Register mounts the admin endpoints on mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("/cache/stats", a.handleStats)
	mux.HandleFunc("/cache/invalidate", a.handleInvalidate)
	mux.HandleFunc("/cache/warmup", a.handleWarmup)
	mux.HandleFunc("/cache/resume", a.handleResume)
}

func (a *Admin) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := a.collector.TakeSnapshot(a.store.Backend(), a.store.Available(), a.limiter.ProviderStates())
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *Admin) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pattern == "" {
		http.Error(w, "pattern is required", http.StatusBadRequest)
		return
	}

	deleted, err := a.store.InvalidatePattern(r.Context(), req.Pattern)
	a.collector.RecordDeletes(deleted)
	if err != nil {
		// Partial failures still report how much was removed.
		var invErr *cache.InvalidationError
		if errors.As(err, &invErr) {
			deleted = invErr.Deleted
		}
		a.logger.Error().Err(err).Str("pattern", req.Pattern).Int("deleted", deleted).
			Msg("Pattern invalidation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"deleted": deleted,
			"error":   err.Error(),
		})
		return
	}

	a.logger.Info().Str("pattern", req.Pattern).Int("deleted", deleted).Msg("Cache invalidated")
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (a *Admin) handleWarmup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Keys) == 0 {
		http.Error(w, "keys are required", http.StatusBadRequest)
		return
	}

	accepted := a.warmer.WarmAsync(req.Keys)
	a.logger.Info().Int("requested", len(req.Keys)).Int("accepted", accepted).Msg("Cache warmup started")
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (a *Admin) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		http.Error(w, "provider is required", http.StatusBadRequest)
		return
	}

	if !a.limiter.Resume(ratelimit.Provider(req.Provider)) {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	a.logger.Info().Str("provider", req.Provider).Msg("Provider queue resumed by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
