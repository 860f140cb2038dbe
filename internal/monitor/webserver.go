// Package monitor serves the HTTP status, tuning and debug surface of the
// elevation mapper.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/elevation.map/internal/db"
	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/frames"
	"github.com/banshee-data/elevation.map/internal/monitoring"
	"github.com/banshee-data/elevation.map/internal/network"
	"github.com/banshee-data/elevation.map/internal/publish"
)

// MapSource is the part of *elevation.Map the web server reads and tunes.
type MapSource interface {
	Config() elevation.Config
	Snapshot() *elevation.Snapshot
	Stats() elevation.Stats
	Params() elevation.Params
	SetParams(p elevation.Params) error
}

// FrameSource lists the known coordinate frames.
type FrameSource interface {
	Frames() []frames.FrameInfo
}

// PacketSource reports ingest totals.
type PacketSource interface {
	Totals() network.PacketTotals
}

// PublisherSource reports gRPC fan-out statistics.
type PublisherSource interface {
	Stats() publish.PublisherStats
}

// EventStore is the persisted batch history. *db.DB satisfies it.
type EventStore interface {
	RecentBatches(limit int) ([]db.BatchRecord, error)
	RecentRebroadcasts(limit int) ([]db.RebroadcastRecord, error)
	RunID() string
	Summary(runID string) (db.RunSummary, error)
	AttachAdminRoutes(mux *http.ServeMux) error
}

// WebServer handles the HTTP interface for monitoring the elevation map.
type WebServer struct {
	address   string
	mapSource MapSource
	frames    FrameSource
	packets   PacketSource
	publisher PublisherSource
	events    EventStore
	startTime time.Time

	mux    *http.ServeMux
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// WebServerConfig contains configuration options for the web server. Only
// Map is required.
type WebServerConfig struct {
	Address   string
	Map       MapSource
	Frames    FrameSource
	Packets   PacketSource
	Publisher PublisherSource
	Events    EventStore
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Map == nil {
		return nil, errors.New("monitor: Map is required")
	}
	ws := &WebServer{
		address:   config.Address,
		mapSource: config.Map,
		frames:    config.Frames,
		packets:   config.Packets,
		publisher: config.Publisher,
		events:    config.Events,
		startTime: time.Now(),
	}

	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.mux = mux
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler exposes the route table, mainly for tests.
func (ws *WebServer) Handler() http.Handler { return ws.mux }

// Addr returns the bound address once Start has begun listening.
func (ws *WebServer) Addr() net.Addr {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.listener == nil {
		return nil
	}
	return ws.listener.Addr()
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", ws.address)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	ws.listener = lis
	ws.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", lis.Addr())
		if err := ws.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
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

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/map", ws.handleMap)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/params", ws.handleParams)
	mux.HandleFunc("/api/frames", ws.handleFrames)
	mux.HandleFunc("/api/batches", ws.handleBatches)
	mux.HandleFunc("/debug/map/heatmap", ws.handleHeatmap)
	mux.HandleFunc("/debug/map/plot.png", ws.handlePlot)

	if ws.events != nil {
		if err := ws.events.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}
