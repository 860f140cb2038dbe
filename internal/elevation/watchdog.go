package elevation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/elevation.map/internal/timeutil"
)

// Watchdog keeps the map transform fresh while no point clouds arrive.
// It checks at twice the minimum update rate and asks the Map to
// rebroadcast whenever the last batch is older than MaxNoUpdateDuration.
type Watchdog struct {
	m      *Map
	clock  timeutil.Clock
	period time.Duration
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatchdogConfig contains configuration for Watchdog.
type WatchdogConfig struct {
	// Clock defaults to the map's clock.
	Clock timeutil.Clock
	// Period overrides the check interval; zero uses Config.WatchdogPeriod.
	Period time.Duration
	// Logger is optional; if nil, uses log.Default()
	Logger *log.Logger
}

// NewWatchdog creates a watchdog for m.
func NewWatchdog(m *Map, cfg WatchdogConfig) *Watchdog {
	clock := cfg.Clock
	if clock == nil {
		clock = m.clock
	}
	period := cfg.Period
	if period <= 0 {
		period = m.Config().WatchdogPeriod()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Watchdog{
		m:      m,
		clock:  clock,
		period: period,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Period returns the check interval.
func (w *Watchdog) Period() time.Duration { return w.period }

// Run checks freshness on every tick. It blocks until the context is
// cancelled or Stop() is called. Returns nil on clean shutdown.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	defer func() {
		close(w.doneCh)
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := w.clock.NewTicker(w.period)
	defer ticker.Stop()

	w.logger.Printf("Watchdog started: period=%v", w.period)

	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("Watchdog stopping due to context cancellation")
			return nil
		case <-w.stopCh:
			w.logger.Printf("Watchdog stopping due to Stop() call")
			return nil
		case now := <-ticker.C():
			w.Tick(now)
		}
	}
}

// Stop requests the watchdog to stop. It is safe to call multiple times.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	<-w.doneCh
}

// IsRunning returns whether the watchdog loop is active.
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Tick runs one freshness check at now and reports whether the transform
// was rebroadcast.
func (w *Watchdog) Tick(now time.Time) bool {
	return w.m.CheckFreshness(now)
}
