package monitor

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/elevation.map/internal/db"
	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/frames"
	"github.com/banshee-data/elevation.map/internal/grid"
	"github.com/banshee-data/elevation.map/internal/httputil"
	"github.com/banshee-data/elevation.map/internal/monitoring"
	"github.com/banshee-data/elevation.map/internal/network"
	"github.com/banshee-data/elevation.map/internal/publish"
	"github.com/banshee-data/elevation.map/internal/version"
)

// nullableFloats encodes NaN and infinities as JSON null.
type nullableFloats []float64

func (f nullableFloats) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, 2+len(f)*8)
	buf = append(buf, '[')
	for i, v := range f {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	}
	return append(buf, ']'), nil
}

type mapResponse struct {
	FrameID    string         `json:"frame_id"`
	Stamp      time.Time      `json:"stamp"`
	Sequence   uint64         `json:"sequence"`
	Resolution float64        `json:"resolution"`
	Length     grid.Length    `json:"length"`
	Rows       int            `json:"rows"`
	Cols       int            `json:"cols"`
	Elevation  nullableFloats `json:"elevation"`
	Variance   nullableFloats `json:"variance"`
	VarianceX  nullableFloats `json:"variance_x"`
	VarianceY  nullableFloats `json:"variance_y"`
	Color      []uint32       `json:"color"`
}

type healthResponse struct {
	Status     string       `json:"status"`
	Build      version.Info `json:"build"`
	Uptime     string       `json:"uptime"`
	LastUpdate time.Time    `json:"last_update"`
	Stale      bool         `json:"stale"`
}

type statsResponse struct {
	Map       elevation.Stats         `json:"map"`
	Packets   *network.PacketTotals   `json:"packets,omitempty"`
	Publisher *publish.PublisherStats `json:"publisher,omitempty"`
	Run       *db.RunSummary          `json:"run,omitempty"`
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	stats := ws.mapSource.Stats()
	maxIdle := ws.mapSource.Config().MaxNoUpdateDuration()
	stale := stats.LastUpdate.IsZero() || time.Since(stats.LastUpdate) >= maxIdle
	httputil.WriteJSONOK(w, healthResponse{
		Status:     "ok",
		Build:      version.Get(),
		Uptime:     time.Since(ws.startTime).Round(time.Second).String(),
		LastUpdate: stats.LastUpdate,
		Stale:      stale,
	})
}

func (ws *WebServer) handleMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s := ws.mapSource.Snapshot()
	httputil.WriteJSONOK(w, mapResponse{
		FrameID:    s.FrameID,
		Stamp:      s.Stamp,
		Sequence:   s.Sequence,
		Resolution: s.Resolution,
		Length:     s.Length,
		Rows:       s.Rows,
		Cols:       s.Cols,
		Elevation:  s.Elevation,
		Variance:   s.Variance,
		VarianceX:  s.VarianceX,
		VarianceY:  s.VarianceY,
		Color:      s.Color,
	})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statsResponse{Map: ws.mapSource.Stats()}
	if ws.packets != nil {
		totals := ws.packets.Totals()
		resp.Packets = &totals
	}
	if ws.publisher != nil {
		ps := ws.publisher.Stats()
		resp.Publisher = &ps
	}
	if ws.events != nil {
		// A failed query only drops the run block.
		if run, err := ws.events.Summary(ws.events.RunID()); err != nil {
			monitoring.Logf("stats: run summary: %v", err)
		} else {
			resp.Run = &run
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// handleParams returns the fusion parameters on GET and replaces them on
// POST. A POST body may be partial; omitted fields keep their values.
func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, ws.mapSource.Params())
	case http.MethodPost:
		p := ws.mapSource.Params()
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			httputil.BadRequest(w, "invalid params: "+err.Error())
			return
		}
		if err := ws.mapSource.SetParams(p); err != nil {
			if errors.Is(err, elevation.ErrInvalidConfig) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, ws.mapSource.Params())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.frames == nil {
		httputil.WriteJSONOK(w, []frames.FrameInfo{})
		return
	}
	list := ws.frames.Frames()
	if list == nil {
		list = []frames.FrameInfo{}
	}
	httputil.WriteJSONOK(w, list)
}

// handleBatches returns recent persisted batches and watchdog events.
// Query params:
//
//	limit (optional, default 50, max 1000)
func (ws *WebServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.events == nil {
		httputil.NotFound(w, "event history is not enabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			httputil.BadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	batches, err := ws.events.RecentBatches(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	rebroadcasts, err := ws.events.RecentRebroadcasts(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"batches":      batches,
		"rebroadcasts": rebroadcasts,
	})
}
