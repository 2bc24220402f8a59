package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"driftline/netcode/internal/telemetry"
)

// adminConfig is read from the environment; flags never override it.
type adminConfig struct {
	Addr             string `env:"NETCODED_ADMIN_ADDR" envDefault:"127.0.0.1:8090"`
	MetricsNamespace string `env:"NETCODED_METRICS_NAMESPACE" envDefault:"netcoded"`
}

func loadAdminConfig() (adminConfig, error) {
	var cfg adminConfig
	if err := env.Parse(&cfg); err != nil {
		return adminConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

type peerStats struct {
	Player             int    `json:"player"`
	Addr               string `json:"addr"`
	PingMillis         int64  `json:"pingMillis"`
	SendQueueLen       int    `json:"sendQueueLen"`
	LocalFramesBehind  int32  `json:"localFramesBehind"`
	RemoteFramesBehind int32  `json:"remoteFramesBehind"`
}

type matchStats struct {
	MatchID        string      `json:"matchId"`
	State          string      `json:"state"`
	CurrentFrame   int32       `json:"currentFrame"`
	ConfirmedFrame int32       `json:"confirmedFrame"`
	FramesAhead    int32       `json:"framesAhead"`
	Peers          []peerStats `json:"peers"`
}

// adminServer exposes /healthz, /stats and /metrics for one match peer.
type adminServer struct {
	registry *prometheus.Registry

	mu    sync.RWMutex
	stats matchStats
}

func newAdminServer(matchID string) *adminServer {
	return &adminServer{
		registry: prometheus.NewRegistry(),
		stats:    matchStats{MatchID: matchID, State: "synchronizing"},
	}
}

func (a *adminServer) update(stats matchStats) {
	a.mu.Lock()
	a.stats = stats
	a.mu.Unlock()
}

// router builds the HTTP surface. ws, when non-nil, is mounted at /ws so
// WebSocket peers share the admin listener.
func (a *adminServer) router(ws http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		a.mu.RLock()
		stats := a.stats
		a.mu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	if ws != nil {
		r.Handle("/ws", ws)
	}
	return r
}

// serve runs the admin listener until ctx is cancelled.
func (a *adminServer) serve(ctx context.Context, addr string, ws http.Handler, logger telemetry.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router(ws),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("[admin] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("[admin] server stopped: %v", err)
	}
}
