// Package monitor serves the most recent statistics snapshot over HTTP
// for debugging: raw JSON, go-echarts charts and the extended images.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/loopstats/internal/httputil"
	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/stats/codec"
	"github.com/banshee-data/loopstats/internal/storage/sqlite"
)

// WebServer keeps the latest published snapshot and serves it under
// /debug/stats/. It is a stats.Consumer.
type WebServer struct {
	address string
	catalog *stats.Catalog
	db      *sqlite.DB
	server  *http.Server

	mu       sync.RWMutex
	latest   *stats.Snapshot
	received uint64
	updated  time.Time
}

var _ stats.Consumer = (*WebServer)(nil)

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address string
	// Catalog is served by /debug/stats/catalog. Defaults to the process
	// catalog.
	Catalog *stats.Catalog
	// DB, when set, also mounts the SQL console and row counts.
	DB *sqlite.DB
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address: config.Address,
		catalog: config.Catalog,
		db:      config.DB,
	}
	if ws.catalog == nil {
		ws.catalog = stats.ProcessCatalog()
	}

	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Consume implements stats.Consumer. The snapshot is copied so later
// changes by the producer are not visible to HTTP readers.
func (ws *WebServer) Consume(s *stats.Snapshot) {
	c := s.Clone()
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.latest = c
	ws.received++
	ws.updated = time.Now()
}

// Latest returns a copy of the most recent snapshot, or nil before the
// first one arrives.
func (ws *WebServer) Latest() *stats.Snapshot {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if ws.latest == nil {
		return nil
	}
	return ws.latest.Clone()
}

// Handler returns the HTTP handler serving all routes.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves HTTP until ctx is cancelled, then shuts the server down.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}

	monitoring.Logf("HTTP server routine stopped")
	return nil
}

// Close shuts down the web server
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/debug/stats/catalog", ws.handleCatalog)
	mux.HandleFunc("/debug/stats/latest", ws.handleLatest)
	mux.HandleFunc("/debug/stats/chart", ws.handleMetricsChart)
	mux.HandleFunc("/debug/stats/posterior", ws.handlePosteriorChart)
	mux.HandleFunc("/debug/stats/ref.png", ws.handleImage(func(s *stats.Snapshot) stats.Image { return s.RefImage() }))
	mux.HandleFunc("/debug/stats/loop.png", ws.handleImage(func(s *stats.Snapshot) stats.Image { return s.LoopImage() }))

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.mu.RLock()
	received := ws.received
	updated := ws.updated
	ws.mu.RUnlock()

	body := map[string]any{
		"status":    "ok",
		"service":   "loopstats",
		"snapshots": received,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !updated.IsZero() {
		body["last_snapshot"] = updated.UTC().Format(time.RFC3339Nano)
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// catalogEntry keeps /debug/stats/catalog ordered by key.
type catalogEntry struct {
	Key     stats.MetricKey `json:"key"`
	Group   string          `json:"group"`
	Name    string          `json:"name"`
	Unit    string          `json:"unit"`
	Default float64         `json:"default"`
}

func (ws *WebServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	defaults := ws.catalog.Defaults()
	entries := make([]catalogEntry, 0, len(defaults))
	for _, key := range ws.catalog.Keys() {
		group, name, unit, _ := key.Parts()
		entries = append(entries, catalogEntry{
			Key:     key,
			Group:   group,
			Name:    name,
			Unit:    unit,
			Default: defaults[key],
		})
	}

	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (ws *WebServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s := ws.Latest()
	if s == nil {
		httputil.NotFound(w, "no snapshot published yet")
		return
	}

	data, err := codec.EncodeJSON(s)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteBody(w, "application/json", data)
}
