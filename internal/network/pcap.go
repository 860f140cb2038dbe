package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/elevation.map/internal/monitoring"
	"github.com/banshee-data/elevation.map/internal/pointcloud"
	"github.com/banshee-data/elevation.map/internal/timeutil"
)

// PCAPReplayConfig configures an offline replay of captured clouds.
type PCAPReplayConfig struct {
	Path  string
	Port  int     // UDP destination port to keep; 0 keeps every UDP packet
	Speed float64 // 1.0 replays at capture rate; 0 replays as fast as possible
	Clock timeutil.Clock
	Stats PacketStatsInterface
	// Handler receives every decoded cloud in capture order.
	Handler CloudHandlerFunc
}

// PCAPReplayResult summarises a finished replay.
type PCAPReplayResult struct {
	Packets   int
	Clouds    int
	Malformed int
	Failed    int
	Duration  time.Duration
}

// packetDataSource is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetDataSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(f *os.File) (packetDataSource, error) {
	r, err := pcapgo.NewReader(f)
	if err == nil {
		return r, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("not a pcap (%v) or pcapng (%v) file", err, ngErr)
	}
	return ng, nil
}

// ReplayPCAP reads UDP payloads from a pcap or pcapng file and feeds each
// decoded cloud to the handler, exactly as UDPListener would.
func ReplayPCAP(ctx context.Context, cfg PCAPReplayConfig) (PCAPReplayResult, error) {
	var res PCAPReplayResult

	f, err := os.Open(cfg.Path)
	if err != nil {
		return res, fmt.Errorf("failed to open PCAP file %s: %w", cfg.Path, err)
	}
	defer f.Close()

	src, err := openCapture(f)
	if err != nil {
		return res, fmt.Errorf("failed to read PCAP file %s: %w", cfg.Path, err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	l := &UDPListener{stats: stats, handler: cfg.Handler}

	packetSource := gopacket.NewPacketSource(src, src.LinkType())
	packetSource.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	start := clock.Now()
	var lastCapture time.Time

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping due to context cancellation (processed %d packets)", res.Packets)
			res.Duration = clock.Since(start)
			return res, ctx.Err()
		case packet, ok := <-packetSource.Packets():
			if !ok || packet == nil {
				res.Duration = clock.Since(start)
				monitoring.Logf("PCAP replay complete: %d packets, %d clouds in %v", res.Packets, res.Clouds, res.Duration)
				return res, nil
			}

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok {
				continue
			}
			if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
				continue
			}
			if len(udp.Payload) == 0 {
				continue
			}
			res.Packets++

			captured := packet.Metadata().Timestamp
			if cfg.Speed > 0 && !lastCapture.IsZero() {
				if gap := captured.Sub(lastCapture); gap > 0 {
					clock.Sleep(time.Duration(float64(gap) / cfg.Speed))
				}
			}
			lastCapture = captured

			if err := l.handleDatagram(ctx, udp.Payload); err != nil {
				if errors.Is(err, pointcloud.ErrMalformedDatagram) {
					res.Malformed++
				} else {
					res.Failed++
				}
				monitoring.Debugf("PCAP packet %d: %v", res.Packets, err)
				continue
			}
			res.Clouds++

			if res.Packets%10000 == 0 {
				monitoring.Logf("PCAP progress: %d packets processed in %v", res.Packets, clock.Since(start))
			}
		}
	}
}
