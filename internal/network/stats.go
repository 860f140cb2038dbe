package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/elevation.map/internal/monitoring"
)

// PacketStats tracks datagram statistics with thread-safe operations.
type PacketStats struct {
	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	malformedCount int64
	pointCount     int64
	failedBatches  int64
	lastReset      time.Time

	totalPackets int64
	totalPoints  int64
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{lastReset: time.Now()}
}

// AddPacket counts one received datagram.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.totalPackets++
	ps.byteCount += int64(bytes)
}

// AddMalformed counts a datagram that could not be decoded.
func (ps *PacketStats) AddMalformed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.malformedCount++
}

// AddPoints counts decoded points.
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
	ps.totalPoints += int64(count)
}

// AddFailedBatch counts a batch the map abandoned.
func (ps *PacketStats) AddFailedBatch() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failedBatches++
}

// PacketTotals are the counters since start.
type PacketTotals struct {
	Packets int64 `json:"packets"`
	Points  int64 `json:"points"`
}

// Totals returns the counters accumulated since creation.
func (ps *PacketStats) Totals() PacketTotals {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return PacketTotals{Packets: ps.totalPackets, Points: ps.totalPoints}
}

// GetAndReset returns the interval counters and resets them.
func (ps *PacketStats) GetAndReset() (packets, bytes, malformed, points, failed int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets, bytes, malformed, points, failed = ps.packetCount, ps.byteCount, ps.malformedCount, ps.pointCount, ps.failedBatches
	ps.packetCount, ps.byteCount, ps.malformedCount, ps.pointCount, ps.failedBatches = 0, 0, 0, 0, 0
	ps.lastReset = now
	return
}

// LogStats logs per-second rates for the last interval.
func (ps *PacketStats) LogStats() {
	packets, bytes, malformed, points, failed, duration := ps.GetAndReset()
	if packets == 0 && malformed == 0 {
		return
	}
	secs := duration.Seconds()
	msg := fmt.Sprintf("Point cloud stats (/sec): %.2f KB, %.1f clouds, %s points",
		float64(bytes)/secs/1024, float64(packets)/secs, monitoring.FormatWithCommas(int64(float64(points)/secs)))
	if malformed > 0 {
		msg += fmt.Sprintf(", %d malformed", malformed)
	}
	if failed > 0 {
		msg += fmt.Sprintf(", %d batches abandoned", failed)
	}
	monitoring.Logf("%s", msg)
}
