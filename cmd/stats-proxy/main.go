package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/budapestdude/stats-sub007/pkg/cache"
	"github.com/budapestdude/stats-sub007/pkg/logging"
	"github.com/budapestdude/stats-sub007/pkg/metrics"
	"github.com/budapestdude/stats-sub007/pkg/middleware"
	"github.com/budapestdude/stats-sub007/pkg/ratelimit"
	"github.com/budapestdude/stats-sub007/pkg/stats"
	"github.com/budapestdude/stats-sub007/pkg/upstream"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
		Output: os.Stderr,
	})

	// Configuration from environment
	port := getEnv("PORT", "8080")
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	userAgent := getEnv("USER_AGENT", "stats-proxy/0.1.0")
	localOnly := getEnv("CACHE_LOCAL_ONLY", "false") == "true"
	cacheTTL := getEnvDuration("CACHE_TTL", 5*time.Minute)
	maxEntries := getEnvInt("CACHE_MAX_ENTRIES", 5000)
	concurrency := getEnvInt("PROVIDER_CONCURRENCY", 4)

	// Distributed backend is optional; without it the cache runs
	// local-only and the supervisor keeps retrying in the background.
	var redisClient redis.UniversalClient
	if localOnly {
		logger.Info().Msg("Distributed cache disabled, running local-only")
	} else {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	local := cache.NewMemoryStore(cache.MemoryConfig{
		MaxEntries:    maxEntries,
		SweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
	})
	store := cache.NewTiered(cache.TieredConfig{
		Redis: redisClient,
		Local: local,
	}, logging.NewLogger("cache"))
	defer store.Close()

	collector := stats.NewCollector()

	limiter := ratelimit.New(
		[]ratelimit.Provider{ratelimit.ProviderChessCom, ratelimit.ProviderLichess},
		ratelimit.Config{
			Concurrency: concurrency,
			QueueDepth:  getEnvInt("PROVIDER_QUEUE_DEPTH", 1024),
			Policy: ratelimit.Policy{
				InitialBackoff: getEnvDuration("BACKOFF_INITIAL", time.Second),
				Multiplier:     2.0,
				MaxBackoff:     getEnvDuration("BACKOFF_MAX", 30*time.Second),
			},
		},
		collector,
		logging.NewLogger("ratelimit"),
	)
	defer limiter.Close()

	client, err := upstream.New(upstream.DefaultConfig(userAgent), limiter, logging.NewLogger("upstream"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create upstream client")
	}

	fetcher := cache.NewFetcher()
	warmer := cache.NewWarmer(store, fetcher, warmupResolver(client, cacheTTL),
		cache.DefaultWarmerConfig(), logging.NewLogger("warmer"))

	mw := middleware.New(store, fetcher, collector, logging.NewLogger("middleware"))
	admin := middleware.NewAdmin(store, limiter, collector, warmer, logging.NewLogger("admin"))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	admin.Register(mux)

	mux.Handle("/api/chesscom/", mw.Handler(middleware.Route{
		Namespace: "chesscom",
		TTL:       cacheTTL,
		Key:       providerKey("chesscom", "/api/chesscom/"),
	}, proxyHandler(client, ratelimit.ProviderChessCom, "/api/chesscom/")))

	mux.Handle("/api/lichess/", mw.Handler(middleware.Route{
		Namespace: "lichess",
		TTL:       cacheTTL,
		Key:       providerKey("lichess", "/api/lichess/"),
		Skip:      shortAutocomplete,
	}, proxyHandler(client, ratelimit.ProviderLichess, "/api/lichess/")))

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("user_agent", userAgent).Msg("Starting stats proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// proxyHandler forwards the request path past the route prefix to the
// provider and writes the response body. Runs as the miss producer
// behind the cache middleware.
func proxyHandler(client *upstream.Client, provider ratelimit.Provider, prefix string) http.Handler {
	logger := logging.NewLogger("proxy")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, prefix)
		if endpoint == "" {
			http.Error(w, "missing endpoint path", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		data, err := client.Fetch(ctx, provider, endpoint, r.URL.Query())
		if err != nil {
			var upErr *upstream.Error
			if errors.As(err, &upErr) && upErr.StatusCode >= 400 {
				http.Error(w, upErr.Message, upErr.StatusCode)
				return
			}
			http.Error(w, fmt.Sprintf("provider request failed: %v", err), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if _, err := w.Write(data); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	})
}

// providerKey keys cached responses by the provider-relative endpoint,
// not the full request path. Warmup keys use the same shape, so a warmed
// "chesscom:player/magnus" entry serves the matching live request.
func providerKey(namespace, prefix string) func(*http.Request) cache.Key {
	return func(r *http.Request) cache.Key {
		return cache.Key{
			Namespace: namespace,
			Path:      strings.TrimPrefix(r.URL.Path, prefix),
			Params:    r.URL.Query(),
		}
	}
}

// shortAutocomplete bypasses caching for autocomplete lookups whose term
// is too short to produce a reusable result set.
func shortAutocomplete(r *http.Request) bool {
	term := r.URL.Query().Get("term")
	return term != "" && len(term) < 2
}

// warmupResolver maps plain "namespace:path" warmup keys onto provider
// fetches. Keys carrying parameters or hashed overflow keys are not
// resolvable and are skipped.
func warmupResolver(client *upstream.Client, ttl time.Duration) cache.ProducerResolver {
	return func(key string) (cache.Producer, bool) {
		namespace, endpoint, ok := strings.Cut(key, ":")
		if !ok || endpoint == "" || strings.Contains(endpoint, ":") {
			return nil, false
		}

		var provider ratelimit.Provider
		switch namespace {
		case string(ratelimit.ProviderChessCom):
			provider = ratelimit.ProviderChessCom
		case string(ratelimit.ProviderLichess):
			provider = ratelimit.ProviderLichess
		default:
			return nil, false
		}

		return func(ctx context.Context) (*cache.Entry, error) {
			data, err := client.Fetch(ctx, provider, endpoint, nil)
			if err != nil {
				return nil, err
			}
			return cache.NewEntry(data, http.StatusOK, "application/json; charset=utf-8", ttl), nil
		}, true
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
