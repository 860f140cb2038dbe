// Command map-subscriber connects to a running elevation mapper and prints
// a one-line summary of every map it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/elevation.map/internal/monitoring"
	"github.com/banshee-data/elevation.map/internal/publish"
)

var (
	target = flag.String("target", "localhost:50061", "Map service address")
	name   = flag.String("name", "map-subscriber", "Client name reported to the server")
	count  = flag.Int("count", 0, "Exit after this many maps (0: run until interrupted)")
)

type layerSummary struct {
	observed int
	min, max float64
	mean     float64
}

func summarize(values []float64) layerSummary {
	s := layerSummary{min: math.Inf(1), max: math.Inf(-1)}
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		s.observed++
		sum += v
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
	}
	if s.observed > 0 {
		s.mean = sum / float64(s.observed)
	}
	return s
}

func describe(m *publish.ElevationMap) string {
	stamp := time.Unix(0, m.StampNanos).UTC().Format(time.RFC3339Nano)
	e := summarize(m.Elevation)
	if e.observed == 0 {
		return fmt.Sprintf("seq=%d stamp=%s frame=%s %dx%d: no observed cells",
			m.Sequence, stamp, m.FrameID, m.Rows, m.Cols)
	}
	v := summarize(m.Variance)
	return fmt.Sprintf("seq=%d stamp=%s frame=%s %dx%d observed=%s elevation=[%.3f, %.3f] mean=%.3f variance_mean=%.4f",
		m.Sequence, stamp, m.FrameID, m.Rows, m.Cols,
		monitoring.FormatWithCommas(int64(e.observed)), e.min, e.max, e.mean, v.mean)
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := publish.NewClient(*target)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	recv, err := client.StreamMaps(ctx, &publish.SubscribeRequest{ClientName: *name})
	if err != nil {
		log.Fatalf("failed to subscribe: %v", err)
	}
	log.Printf("subscribed to %s as %q", *target, *name)

	for n := 0; *count == 0 || n < *count; n++ {
		m, err := recv.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled:
				log.Printf("stream closed after %d maps", n)
			case status.Code(err) == codes.ResourceExhausted:
				log.Fatalf("server is at its client limit: %v", err)
			default:
				log.Fatalf("stream error: %v", err)
			}
			return
		}
		if err := m.Validate(); err != nil {
			log.Printf("discarding malformed map: %v", err)
			continue
		}
		fmt.Println(describe(m))
	}
}
