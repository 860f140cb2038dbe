// Package publish streams elevation map snapshots to subscribers over gRPC.
package publish

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/monitoring"
)

// Config holds configuration for the map publisher.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is how many maps may queue for a slow client before
	// maps are dropped for it.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 4,
	}
}

// Publisher serves ElevationMapService and fans published maps out to
// every connected stream. It satisfies elevation.Publisher.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	latest    *ElevationMap
	nextID    atomic.Uint64

	mapCount     atomic.Uint64
	clientCount  atomic.Int32
	droppedMaps  atomic.Uint64
	running      atomic.Bool
	wg           sync.WaitGroup
	lastStatsMu  sync.Mutex
	lastStatsLog time.Time
}

var _ elevation.Publisher = (*Publisher)(nil)

// clientStream represents a connected streaming client.
type clientStream struct {
	id    string
	name  string
	mapCh chan *ElevationMap
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]*clientStream),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the map service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	// Full-resolution maps are five layers of rows*cols cells; the default
	// 4MB limit is too small for a 3m map at 1cm.
	const maxMsgSize = 64 * 1024 * 1024
	p.server = grpc.NewServer(
		grpc.ForceServerCodec(codec{}),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.WaitForHandlers(true),
	)
	RegisterMapServiceServer(p.server, p)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[Publish] gRPC map service listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[Publish] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listener address, or nil before Serve.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop disconnects every client and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	if p.server != nil {
		p.server.Stop()
	}
	p.wg.Wait()
	monitoring.Logf("[Publish] gRPC server stopped")
}

// HasSubscribers reports whether at least one stream is connected.
func (p *Publisher) HasSubscribers() bool {
	return p.clientCount.Load() > 0
}

// Publish converts s and queues it for every connected client. Slow
// clients drop maps rather than block the caller.
func (p *Publisher) Publish(s *elevation.Snapshot) error {
	if !p.running.Load() {
		return fmt.Errorf("publisher not running")
	}
	msg := FromSnapshot(s)

	p.clientsMu.Lock()
	p.latest = msg
	for _, c := range p.clients {
		select {
		case c.mapCh <- msg:
		default:
			p.droppedMaps.Add(1)
		}
	}
	p.clientsMu.Unlock()

	p.mapCount.Add(1)
	p.logPeriodicStats()
	return nil
}

// logPeriodicStats logs publisher stats every 30 seconds.
func (p *Publisher) logPeriodicStats() {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := time.Now()
	if p.lastStatsLog.IsZero() {
		p.lastStatsLog = now
		return
	}
	if now.Sub(p.lastStatsLog) >= 30*time.Second {
		monitoring.Logf("[Publish] Stats: maps=%d dropped=%d clients=%d",
			p.mapCount.Load(), p.droppedMaps.Load(), p.clientCount.Load())
		p.lastStatsLog = now
	}
}

// StreamMaps implements MapServiceServer.
func (p *Publisher) StreamMaps(req *SubscribeRequest, stream MapStream) error {
	client, err := p.addClient(req.ClientName)
	if err != nil {
		return err
	}
	defer p.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-client.mapCh:
			if err := stream.Send(m); err != nil {
				return err
			}
		}
	}
}

// addClient registers a new streaming client. The most recent map, if
// any, is queued so new clients do not wait for the next batch.
func (p *Publisher) addClient(name string) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "map stream limit of %d clients reached", p.config.MaxClients)
	}
	client := &clientStream{
		id:    fmt.Sprintf("map-%d", p.nextID.Add(1)),
		name:  name,
		mapCh: make(chan *ElevationMap, p.config.ClientBuffer),
	}
	if p.latest != nil {
		client.mapCh <- p.latest
	}
	p.clients[client.id] = client
	p.clientCount.Add(1)
	monitoring.Logf("[Publish] Client connected: %s (%s) (total: %d)", client.id, name, p.clientCount.Load())
	return client, nil
}

// removeClient unregisters a streaming client.
func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		p.clientCount.Add(-1)
		monitoring.Logf("[Publish] Client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		MapCount:    p.mapCount.Load(),
		DroppedMaps: p.droppedMaps.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	MapCount    uint64 `json:"map_count"`
	DroppedMaps uint64 `json:"dropped_maps"`
	ClientCount int32  `json:"client_count"`
	Running     bool   `json:"running"`
}
