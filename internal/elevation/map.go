package elevation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/elevation.map/internal/frames"
	"github.com/banshee-data/elevation.map/internal/grid"
	"github.com/banshee-data/elevation.map/internal/monitoring"
	"github.com/banshee-data/elevation.map/internal/pointcloud"
	"github.com/banshee-data/elevation.map/internal/timeutil"
)

// TransformLookup resolves the transform that maps points in source into
// target at stamp, waiting until ctx is done for it to become available.
type TransformLookup interface {
	Lookup(ctx context.Context, target, source string, stamp time.Time) (frames.StampedTransform, error)
}

// Publisher receives map snapshots after each batch.
type Publisher interface {
	HasSubscribers() bool
	Publish(s *Snapshot) error
}

// EventRecorder persists batch results and watchdog rebroadcasts.
type EventRecorder interface {
	RecordBatch(s BatchStats) error
	RecordRebroadcast(stamp time.Time, idle time.Duration) error
}

// Options wires a Map to its collaborators. Broadcaster and Lookup are
// required; the rest are optional.
type Options struct {
	Broadcaster frames.Broadcaster
	Lookup      TransformLookup
	Publisher   Publisher
	Recorder    EventRecorder
	Clock       timeutil.Clock
}

// Map is the elevation mapping node. Its methods are safe for concurrent
// use; each batch runs to completion under the map lock.
type Map struct {
	mu sync.Mutex

	cfg         Config
	grid        *grid.Grid
	lastUpdate  time.Time
	sequence    uint64
	broadcaster frames.Broadcaster
	lookup      TransformLookup
	publisher   Publisher
	recorder    EventRecorder
	clock       timeutil.Clock
	stats       Stats
}

// NewMap creates a map with an empty grid. Call Initialize before feeding
// batches so the map transform is known to the lookup side.
func NewMap(cfg Config, opts Options) (*Map, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid map config: %w", err)
	}
	if opts.Broadcaster == nil || opts.Lookup == nil {
		return nil, fmt.Errorf("map needs a transform broadcaster and lookup")
	}
	g, err := grid.New(cfg.Length, cfg.Resolution)
	if err != nil {
		return nil, err
	}
	g.SetAxisVarianceMode(cfg.AxisVarianceMode)

	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Map{
		cfg:         cfg,
		grid:        g,
		broadcaster: opts.Broadcaster,
		lookup:      opts.Lookup,
		publisher:   opts.Publisher,
		recorder:    opts.Recorder,
		clock:       clock,
	}, nil
}

// Config returns the map configuration with the current runtime params.
func (m *Map) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Initialize resizes and resets the grid, broadcasts the map transform
// once and then waits the configured settle delay so that transform
// listeners have the map frame before the first batch.
func (m *Map) Initialize() error {
	m.mu.Lock()
	if err := m.grid.Resize(m.cfg.Length); err != nil {
		m.mu.Unlock()
		return err
	}
	m.grid.Reset()
	if err := m.broadcastLocked(m.clock.Now()); err != nil {
		monitoring.Logf("elevation map: %v", err)
	}
	rows, cols := m.grid.Rows(), m.grid.Cols()
	settle := m.cfg.SettleDelay
	m.mu.Unlock()

	m.clock.Sleep(settle)
	monitoring.Logf("elevation map initialized: %dx%d cells at %.3f m in frame %s",
		rows, cols, m.cfg.Resolution, m.cfg.MapFrameID)
	return nil
}

// Resize changes the grid extent and clears every cell. Ingest should be
// paused by the caller while the grid is resized.
func (m *Map) Resize(length grid.Length) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.grid.Resize(length); err != nil {
		return err
	}
	m.grid.Reset()
	m.cfg.Length = length
	monitoring.Debugf("elevation map resized to %d rows and %d columns", m.grid.Rows(), m.grid.Cols())
	return nil
}

// Reset marks every cell unobserved.
func (m *Map) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grid.Reset()
}

// LastUpdate returns the stamp of the last batch.
func (m *Map) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

// broadcastLocked sends the map->parent transform stamped at stamp.
func (m *Map) broadcastLocked(stamp time.Time) error {
	err := m.broadcaster.SendTransform(frames.StampedTransform{
		Transform:   m.cfg.MapTransform,
		Stamp:       stamp,
		ParentFrame: m.cfg.ParentFrameID,
		ChildFrame:  m.cfg.MapFrameID,
	})
	if err != nil {
		m.stats.BroadcastFailures++
		return fmt.Errorf("%w: %v", ErrTransformBroadcastFailed, err)
	}
	monitoring.Debugf("published transform for %s in %s at %s",
		m.cfg.MapFrameID, m.cfg.ParentFrameID, stamp.Format(time.RFC3339Nano))
	return nil
}

// AddPointCloud fuses one batch into the map.
//
// The map transform is broadcast at the batch stamp and lastUpdate moves to
// it. The cloud is then cleaned and transformed into the map frame; if that
// fails the batch is abandoned and the grid is left exactly as it was.
// Otherwise process noise grows on every observed cell, the points are
// fused in order and a snapshot is published when anyone is subscribed.
func (m *Map) AddPointCloud(ctx context.Context, cloud *pointcloud.Cloud) (BatchStats, error) {
	start := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	bs := BatchStats{Stamp: cloud.Stamp, FrameID: cloud.FrameID, Received: cloud.Len()}
	monitoring.Debugf("elevation map received a point cloud (%d points)", bs.Received)

	if err := m.broadcastLocked(cloud.Stamp); err != nil {
		monitoring.Logf("elevation map: %v", err)
	}
	m.lastUpdate = cloud.Stamp

	cleaned := pointcloud.Clean(cloud, m.cfg.SensorCutoffDepth)
	bs.Kept = cleaned.Len()
	monitoring.Debugf("cleaning reduced point cloud to %d points", bs.Kept)

	inMap, err := m.transformLocked(ctx, cleaned)
	if err != nil {
		bs.Err = err.Error()
		bs.Duration = m.clock.Since(start)
		m.finishLocked(bs)
		return bs, err
	}

	m.grid.GrowProcessNoise(m.cfg.ProcessNoiseDelta, m.cfg.MinVariance, m.cfg.MaxVariance)

	obs := make([]grid.Observation, len(inMap.Points))
	for i, p := range inMap.Points {
		obs[i] = grid.Observation{
			Position: grid.Position{X: p.X, Y: p.Y},
			Z:        p.Z,
			Color:    grid.PackRGB(p.R, p.G, p.B),
		}
	}
	res := m.grid.FuseAll(obs, m.cfg.MeasurementVariance)
	bs.Fused = res.Fused
	bs.OutOfBounds = res.OutOfBounds

	bs.Published = m.publishLocked()
	bs.Duration = m.clock.Since(start)
	m.finishLocked(bs)
	return bs, nil
}

func (m *Map) transformLocked(ctx context.Context, cloud *pointcloud.Cloud) (*pointcloud.Cloud, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, m.cfg.MaxNoUpdateDuration())
	defer cancel()

	tf, err := m.lookup.Lookup(lookupCtx, m.cfg.MapFrameID, cloud.FrameID, cloud.Stamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s at %s: %w", ErrTransformLookupFailed,
			cloud.FrameID, m.cfg.MapFrameID, cloud.Stamp.Format(time.RFC3339Nano), err)
	}
	out, err := pointcloud.Transform(cloud, tf.Transform, m.cfg.MapFrameID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPointTransformFailed, err)
	}
	monitoring.Debugf("point cloud transformed for time stamp %s", cloud.Stamp.Format(time.RFC3339Nano))
	return out, nil
}

func (m *Map) publishLocked() bool {
	if m.publisher == nil || !m.publisher.HasSubscribers() {
		return false
	}
	m.sequence++
	if err := m.publisher.Publish(m.snapshotLocked()); err != nil {
		monitoring.Logf("elevation map: publish failed: %v", err)
		return false
	}
	m.stats.Published++
	monitoring.Debugf("elevation map has been published (seq %d)", m.sequence)
	return true
}

func (m *Map) finishLocked(bs BatchStats) {
	m.stats.record(bs)
	if m.recorder != nil {
		if err := m.recorder.RecordBatch(bs); err != nil {
			monitoring.Logf("elevation map: record batch: %v", err)
		}
	}
}

// CheckFreshness rebroadcasts the map transform stamped now when no batch
// has arrived for at least MaxNoUpdateDuration. It reports whether a
// rebroadcast happened. The grid is never touched.
func (m *Map) CheckFreshness(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idle := now.Sub(m.lastUpdate)
	if idle < m.cfg.MaxNoUpdateDuration() {
		return false
	}
	monitoring.Debugf("elevation map is updated without data from the sensor")
	if err := m.broadcastLocked(now); err != nil {
		monitoring.Logf("elevation map: %v", err)
	}
	m.stats.Rebroadcasts++
	if m.recorder != nil {
		if err := m.recorder.RecordRebroadcast(now, idle); err != nil {
			monitoring.Logf("elevation map: record rebroadcast: %v", err)
		}
	}
	return true
}

// Snapshot copies the current map state.
func (m *Map) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Map) snapshotLocked() *Snapshot {
	return &Snapshot{
		FrameID:    m.cfg.MapFrameID,
		Stamp:      m.lastUpdate,
		Sequence:   m.sequence,
		Resolution: m.grid.Resolution(),
		Length:     m.grid.Length(),
		Layers:     m.grid.Layers(),
	}
}

// Params returns the runtime-tunable fusion settings.
func (m *Map) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.params()
}

// SetParams validates and applies new fusion settings. They take effect
// from the next batch.
func (m *Map) SetParams(p Params) error {
	if err := validateParams(p); err != nil {
		return err
	}
	mode, _ := grid.ParseAxisVarianceMode(p.AxisVarianceMode)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.SensorCutoffDepth = p.SensorCutoffDepth
	m.cfg.MinVariance = p.MinVariance
	m.cfg.MaxVariance = p.MaxVariance
	m.cfg.MeasurementVariance = p.MeasurementVariance
	m.cfg.ProcessNoiseDelta = p.ProcessNoiseDelta
	m.cfg.AxisVarianceMode = mode
	m.grid.SetAxisVarianceMode(mode)
	return nil
}

// Stats returns the running counters.
func (m *Map) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.LastUpdate = m.lastUpdate
	s.ObservedCells = m.grid.ObservedCount()
	s.Rows, s.Cols = m.grid.Rows(), m.grid.Cols()
	return s
}
