package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/elevation.map/internal/db"
	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/frames"
	"github.com/banshee-data/elevation.map/internal/grid"
	"github.com/banshee-data/elevation.map/internal/network"
	"github.com/banshee-data/elevation.map/internal/publish"
)

type fakeMap struct {
	mu       sync.Mutex
	cfg      elevation.Config
	snapshot *elevation.Snapshot
	stats    elevation.Stats
	params   elevation.Params
	setErr   error
}

func newFakeMap() *fakeMap {
	nan := math.NaN()
	return &fakeMap{
		cfg: elevation.Config{MinUpdateRate: 2},
		snapshot: &elevation.Snapshot{
			FrameID:    "elevation_map",
			Stamp:      time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
			Sequence:   3,
			Resolution: 1,
			Length:     grid.Length{X: 2, Y: 2},
			Layers: grid.Layers{
				Rows:      2,
				Cols:      2,
				Elevation: []float64{1, nan, 2.5, nan},
				Variance:  []float64{0.3, nan, 0.1, nan},
				VarianceX: []float64{0.3, nan, 0.1, nan},
				VarianceY: []float64{0.3, nan, 0.1, nan},
				Color:     []uint32{0xff0000, 0, 0x00ff00, 0},
			},
		},
		stats: elevation.Stats{Batches: 4, PointsFused: 12, Rows: 2, Cols: 2, ObservedCells: 2},
		params: elevation.Params{
			SensorCutoffDepth: 3, MinVariance: 0.001, MaxVariance: 0.5,
			MeasurementVariance: 0.3, AxisVarianceMode: "sequential",
		},
	}
}

func (f *fakeMap) Config() elevation.Config { return f.cfg }

func (f *fakeMap) Snapshot() *elevation.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeMap) Stats() elevation.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeMap) Params() elevation.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

func (f *fakeMap) SetParams(p elevation.Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if p.MinVariance > p.MaxVariance {
		return fmt.Errorf("%w: min above max", elevation.ErrInvalidConfig)
	}
	f.params = p
	return nil
}

type fakeFrames []frames.FrameInfo

func (f fakeFrames) Frames() []frames.FrameInfo { return f }

type fakePackets network.PacketTotals

func (f fakePackets) Totals() network.PacketTotals { return network.PacketTotals(f) }

type fakePublisherStats publish.PublisherStats

func (f fakePublisherStats) Stats() publish.PublisherStats { return publish.PublisherStats(f) }

type fakeEvents struct {
	batches []db.BatchRecord
	summary db.RunSummary
	err     error
}

func (f *fakeEvents) RecentBatches(limit int) ([]db.BatchRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.batches) {
		return f.batches[:limit], nil
	}
	return f.batches, nil
}

func (f *fakeEvents) RecentRebroadcasts(int) ([]db.RebroadcastRecord, error) {
	return []db.RebroadcastRecord{}, nil
}

func (f *fakeEvents) RunID() string { return "run-1" }

func (f *fakeEvents) Summary(runID string) (db.RunSummary, error) {
	if f.err != nil {
		return db.RunSummary{}, f.err
	}
	s := f.summary
	s.RunID = runID
	return s, nil
}

func (f *fakeEvents) AttachAdminRoutes(mux *http.ServeMux) error {
	mux.HandleFunc("/debug/fake-admin", func(w http.ResponseWriter, r *http.Request) {})
	return nil
}

func newTestServer(t *testing.T, cfg WebServerConfig) *WebServer {
	t.Helper()
	if cfg.Map == nil {
		cfg.Map = newFakeMap()
	}
	ws, err := NewWebServer(cfg)
	require.NoError(t, err)
	return ws
}

func do(t *testing.T, ws *WebServer, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewWebServer_RequiresMap(t *testing.T) {
	_, err := NewWebServer(WebServerConfig{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})
	rec := do(t, ws, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "dev", resp.Build.Version)
	assert.True(t, resp.Stale, "no batch has ever arrived")

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, ws, http.MethodPost, "/health", "").Code)
}

func TestHandleMap_EncodesUnobservedAsNull(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})
	rec := do(t, ws, http.MethodGet, "/api/map", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		FrameID   string     `json:"frame_id"`
		Sequence  uint64     `json:"sequence"`
		Rows      int        `json:"rows"`
		Cols      int        `json:"cols"`
		Elevation []*float64 `json:"elevation"`
		Color     []uint32   `json:"color"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "elevation_map", resp.FrameID)
	assert.Equal(t, uint64(3), resp.Sequence)
	assert.Equal(t, 2, resp.Rows)
	require.Len(t, resp.Elevation, 4)
	require.NotNil(t, resp.Elevation[0])
	assert.Equal(t, 1.0, *resp.Elevation[0])
	assert.Nil(t, resp.Elevation[1])
	assert.Equal(t, 2.5, *resp.Elevation[2])
	assert.Equal(t, uint32(0xff0000), resp.Color[0])
}

func TestNullableFloats(t *testing.T) {
	b, err := json.Marshal(nullableFloats{0.5, math.NaN(), math.Inf(1), -2})
	require.NoError(t, err)
	assert.JSONEq(t, `[0.5,null,null,-2]`, string(b))

	b, err = json.Marshal(nullableFloats(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestHandleStats(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{
		Packets:   fakePackets{Packets: 10, Points: 1000},
		Publisher: fakePublisherStats{MapCount: 7, ClientCount: 1, Running: true},
	})
	rec := do(t, ws, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(4), resp.Map.Batches)
	require.NotNil(t, resp.Packets)
	assert.Equal(t, int64(1000), resp.Packets.Points)
	require.NotNil(t, resp.Publisher)
	assert.Equal(t, uint64(7), resp.Publisher.MapCount)

	assert.Nil(t, resp.Run)

	bare := newTestServer(t, WebServerConfig{})
	rec = do(t, bare, http.MethodGet, "/api/stats", "")
	assert.NotContains(t, rec.Body.String(), `"packets"`)
}

func TestHandleStats_RunSummary(t *testing.T) {
	events := &fakeEvents{summary: db.RunSummary{Batches: 12, FailedBatches: 1, PointsFused: 340, Rebroadcasts: 3}}
	ws := newTestServer(t, WebServerConfig{Events: events})

	rec := do(t, ws, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run)
	assert.Equal(t, db.RunSummary{RunID: "run-1", Batches: 12, FailedBatches: 1, PointsFused: 340, Rebroadcasts: 3}, *resp.Run)

	events.err = errors.New("database is locked")
	rec = do(t, ws, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"run"`)
}

func TestHandleParams(t *testing.T) {
	m := newFakeMap()
	ws := newTestServer(t, WebServerConfig{Map: m})

	rec := do(t, ws, http.MethodGet, "/api/params", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got elevation.Params
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, m.params, got)

	rec = do(t, ws, http.MethodPost, "/api/params", `{"measurement_variance": 0.2, "axis_variance_mode": "independent"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0.2, got.MeasurementVariance)
	assert.Equal(t, "independent", got.AxisVarianceMode)
	assert.Equal(t, 3.0, got.SensorCutoffDepth, "omitted fields keep their values")

	rec = do(t, ws, http.MethodPost, "/api/params", `{"min_variance": 1, "max_variance": 0.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0.001, m.Params().MinVariance)

	rec = do(t, ws, http.MethodPost, "/api/params", `{"bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ws, http.MethodPost, "/api/params", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	m.setErr = errors.New("disk on fire")
	rec = do(t, ws, http.MethodPost, "/api/params", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, ws, http.MethodDelete, "/api/params", "").Code)
}

func TestHandleFrames(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{
		Frames: fakeFrames{{Child: "elevation_map", Parent: "map", Entries: 3}},
	})
	rec := do(t, ws, http.MethodGet, "/api/frames", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []frames.FrameInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "elevation_map", got[0].Child)

	rec = do(t, newTestServer(t, WebServerConfig{}), http.MethodGet, "/api/frames", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleBatches(t *testing.T) {
	events := &fakeEvents{batches: []db.BatchRecord{{ID: 2, FrameID: "sensor"}, {ID: 1, FrameID: "sensor"}}}
	ws := newTestServer(t, WebServerConfig{Events: events})

	rec := do(t, ws, http.MethodGet, "/api/batches?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Batches []db.BatchRecord `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Batches, 1)
	assert.Equal(t, int64(2), resp.Batches[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, ws, http.MethodGet, "/api/batches?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, ws, http.MethodGet, "/api/batches?limit=x", "").Code)

	events.err = errors.New("locked")
	assert.Equal(t, http.StatusInternalServerError, do(t, ws, http.MethodGet, "/api/batches", "").Code)

	assert.Equal(t, http.StatusOK, do(t, ws, http.MethodGet, "/debug/fake-admin", "").Code)

	noDB := newTestServer(t, WebServerConfig{})
	assert.Equal(t, http.StatusNotFound, do(t, noDB, http.MethodGet, "/api/batches", "").Code)
}

func TestHandleHeatmap(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})
	rec := do(t, ws, http.MethodGet, "/debug/map/heatmap", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = do(t, ws, http.MethodGet, "/debug/map/heatmap?layer=variance", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ws, http.MethodGet, "/debug/map/heatmap?layer=slope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHeatmap_EmptyMap(t *testing.T) {
	m := newFakeMap()
	nan := math.NaN()
	m.snapshot.Elevation = []float64{nan, nan, nan, nan}
	ws := newTestServer(t, WebServerConfig{Map: m})

	assert.Equal(t, http.StatusNotFound, do(t, ws, http.MethodGet, "/debug/map/heatmap", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, ws, http.MethodGet, "/debug/map/plot.png", "").Code)
}

func TestHandlePlot(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})
	rec := do(t, ws, http.MethodGet, "/debug/map/plot.png?size=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusBadRequest, do(t, ws, http.MethodGet, "/debug/map/plot.png?size=100", "").Code)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{Address: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()

	require.Eventually(t, func() bool { return ws.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + ws.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
