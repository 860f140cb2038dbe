package elevation

import (
	"time"

	"github.com/banshee-data/elevation.map/internal/monitoring"
)

// BatchStats describes the outcome of one AddPointCloud call.
type BatchStats struct {
	Stamp       time.Time     `json:"stamp"`
	FrameID     string        `json:"frame_id"`
	Received    int           `json:"received"`
	Kept        int           `json:"kept"`
	Fused       int           `json:"fused"`
	OutOfBounds int           `json:"out_of_bounds"`
	Published   bool          `json:"published"`
	Duration    time.Duration `json:"duration_ns"`
	Err         string        `json:"error,omitempty"`
}

// Failed reports whether the batch was abandoned.
func (b BatchStats) Failed() bool { return b.Err != "" }

// Stats are the running counters of a Map.
type Stats struct {
	Batches           uint64      `json:"batches"`
	FailedBatches     uint64      `json:"failed_batches"`
	PointsReceived    uint64      `json:"points_received"`
	PointsFused       uint64      `json:"points_fused"`
	PointsOutOfBounds uint64      `json:"points_out_of_bounds"`
	Published         uint64      `json:"published"`
	Rebroadcasts      uint64      `json:"rebroadcasts"`
	BroadcastFailures uint64      `json:"broadcast_failures"`
	LastBatch         *BatchStats `json:"last_batch,omitempty"`
	LastUpdate        time.Time   `json:"last_update"`
	ObservedCells     int         `json:"observed_cells"`
	Rows              int         `json:"rows"`
	Cols              int         `json:"cols"`
}

func (s *Stats) record(b BatchStats) {
	s.Batches++
	if b.Failed() {
		s.FailedBatches++
	}
	s.PointsReceived += uint64(b.Received)
	s.PointsFused += uint64(b.Fused)
	s.PointsOutOfBounds += uint64(b.OutOfBounds)
	last := b
	s.LastBatch = &last
}

// LogStats prints a one-line summary through monitoring.Logf.
func (s Stats) LogStats() {
	monitoring.Logf("elevation map: batches=%s failed=%d points=%s fused=%s oob=%s published=%d rebroadcasts=%d observed=%d/%d",
		monitoring.FormatWithCommas(int64(s.Batches)), s.FailedBatches,
		monitoring.FormatWithCommas(int64(s.PointsReceived)),
		monitoring.FormatWithCommas(int64(s.PointsFused)),
		monitoring.FormatWithCommas(int64(s.PointsOutOfBounds)),
		s.Published, s.Rebroadcasts, s.ObservedCells, s.Rows*s.Cols)
}
