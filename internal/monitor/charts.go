package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/grid"
	"github.com/banshee-data/elevation.map/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// layerValues picks a float layer of the snapshot by its query name.
func layerValues(s *elevation.Snapshot, name string) ([]float64, error) {
	switch name {
	case "", "elevation":
		return s.Elevation, nil
	case "variance":
		return s.Variance, nil
	case "variance_x":
		return s.VarianceX, nil
	case "variance_y":
		return s.VarianceY, nil
	}
	return nil, fmt.Errorf("unknown layer %q", name)
}

func finiteRange(values []float64) (lo, hi float64, n int) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		n++
	}
	return lo, hi, n
}

// handleHeatmap renders one map layer as a go-echarts heatmap.
// Query params:
//   - layer (optional; elevation, variance, variance_x or variance_y)
func (ws *WebServer) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	layer := r.URL.Query().Get("layer")
	s := ws.mapSource.Snapshot()
	values, err := layerValues(s, layer)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	lo, hi, observed := finiteRange(values)
	if observed == 0 {
		httputil.NotFound(w, "no observed cells")
		return
	}
	if hi == lo {
		hi = lo + 1
	}

	xLabels := make([]string, s.Rows)
	for row := range xLabels {
		p := grid.IndexToPosition(grid.Index{Row: row}, s.Length, s.Resolution)
		xLabels[row] = strconv.FormatFloat(p.X, 'f', 2, 64)
	}
	yLabels := make([]string, s.Cols)
	for col := range yLabels {
		p := grid.IndexToPosition(grid.Index{Col: col}, s.Length, s.Resolution)
		yLabels[col] = strconv.FormatFloat(p.Y, 'f', 2, 64)
	}

	data := make([]opts.HeatMapData, 0, observed)
	for row := 0; row < s.Rows; row++ {
		for col := 0; col < s.Cols; col++ {
			v := values[row*s.Cols+col]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{row, col, v}})
		}
	}

	if layer == "" {
		layer = "elevation"
	}
	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Elevation map", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Elevation map: " + layer,
			Subtitle: fmt.Sprintf("frame=%s seq=%d observed=%d/%d", s.FrameID, s.Sequence, observed, s.Rows*s.Cols),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "X (m)", Data: xLabels}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "Y (m)", Data: yLabels}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xLabels).AddSeries(layer, data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// layerGrid adapts a snapshot layer to plotter.GridXYZ. Columns of the plot
// are grid rows (world X) and plot rows are grid columns (world Y).
type layerGrid struct {
	s      *elevation.Snapshot
	values []float64
}

func (g layerGrid) Dims() (c, r int) { return g.s.Rows, g.s.Cols }

func (g layerGrid) Z(c, r int) float64 { return g.values[c*g.s.Cols+r] }

func (g layerGrid) X(c int) float64 {
	return grid.IndexToPosition(grid.Index{Row: c}, g.s.Length, g.s.Resolution).X
}

func (g layerGrid) Y(r int) float64 {
	return grid.IndexToPosition(grid.Index{Col: r}, g.s.Length, g.s.Resolution).Y
}

// renderLayerPNG draws one snapshot layer as a gonum/plot heat map.
func renderLayerPNG(s *elevation.Snapshot, layer string, size vg.Length) ([]byte, error) {
	values, err := layerValues(s, layer)
	if err != nil {
		return nil, err
	}
	lo, hi, observed := finiteRange(values)
	if observed == 0 {
		return nil, errNoObservedCells
	}
	if layer == "" {
		layer = "elevation"
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%s, seq %d)", layer, s.FrameID, s.Sequence)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	hm := plotter.NewHeatMap(layerGrid{s: s, values: values}, palette.Heat(64, 1))
	hm.Min, hm.Max = lo, hi
	if hi == lo {
		hm.Max = lo + 1
	}
	p.Add(hm)

	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handlePlot renders one map layer as a PNG.
// Query params:
//   - layer (optional; as for the heatmap)
//   - size (optional; inches, default 8)
func (ws *WebServer) handlePlot(w http.ResponseWriter, r *http.Request) {
	size := 8 * vg.Inch
	if v := r.URL.Query().Get("size"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 2 || f > 30 {
			httputil.BadRequest(w, "size must be between 2 and 30 inches")
			return
		}
		size = vg.Length(f) * vg.Inch
	}

	png, err := renderLayerPNG(ws.mapSource.Snapshot(), r.URL.Query().Get("layer"), size)
	switch {
	case err == errNoObservedCells:
		httputil.NotFound(w, err.Error())
		return
	case err != nil:
		httputil.BadRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

var errNoObservedCells = errors.New("no observed cells")
