package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/elevation.map/internal/monitoring"
	"github.com/banshee-data/elevation.map/internal/pointcloud"
)

// maxDatagramSize is the largest UDP payload an IPv4 socket can deliver.
const maxDatagramSize = 65507

// PacketStatsInterface provides datagram statistics management.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddMalformed()
	AddPoints(count int)
	AddFailedBatch()
	LogStats()
}

// CloudHandlerFunc consumes one decoded point cloud. A returned error is
// logged and counted; it never stops the listener.
type CloudHandlerFunc func(ctx context.Context, cloud *pointcloud.Cloud) error

// UDPListener receives encoded point clouds over UDP and hands each
// decoded cloud to the configured handler.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	socketFactory UDPSocketFactory
	stats         PacketStatsInterface
	handler       CloudHandlerFunc

	mu        sync.Mutex
	localAddr net.Addr
	ready     chan struct{}
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	SocketFactory UDPSocketFactory // nil uses RealUDPSocketFactory
	Stats         PacketStatsInterface
	Handler       CloudHandlerFunc
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	var stats PacketStatsInterface = noopStats{}
	if config.Stats != nil {
		stats = config.Stats
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}

	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		socketFactory: factory,
		stats:         stats,
		handler:       config.Handler,
		ready:         make(chan struct{}),
	}
}

type noopStats struct{}

func (noopStats) AddPacket(int)   {}
func (noopStats) AddMalformed()   {}
func (noopStats) AddPoints(int)   {}
func (noopStats) AddFailedBatch() {}
func (noopStats) LogStats()       {}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address, or nil before Start binds.
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localAddr
}

// Start binds the socket and processes datagrams until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	l.mu.Lock()
	l.localAddr = conn.LocalAddr()
	l.mu.Unlock()
	close(l.ready)

	monitoring.Logf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	go l.startStatsLogging(ctx)

	buffer := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Short deadline so cancellation is noticed promptly.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		if err := l.handleDatagram(ctx, buffer[:n]); err != nil {
			monitoring.Logf("Error handling datagram from %v: %v", from, err)
		}
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handleDatagram decodes one datagram and dispatches it. The payload is
// copied by Decode, so the read buffer may be reused afterwards.
func (l *UDPListener) handleDatagram(ctx context.Context, payload []byte) error {
	l.stats.AddPacket(len(payload))

	cloud, err := pointcloud.Decode(payload)
	if err != nil {
		l.stats.AddMalformed()
		return err
	}
	l.stats.AddPoints(cloud.Len())

	if l.handler == nil {
		return nil
	}
	if err := l.handler(ctx, cloud); err != nil {
		l.stats.AddFailedBatch()
		return err
	}
	return nil
}
