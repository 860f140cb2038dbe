package elevation

import (
	"time"

	"github.com/banshee-data/elevation.map/internal/grid"
)

// Snapshot is a copy of the map published to subscribers. Stamp is the
// time of the last batch; unobserved cells carry NaN in every float layer.
type Snapshot struct {
	FrameID    string
	Stamp      time.Time
	Sequence   uint64
	Resolution float64
	Length     grid.Length
	grid.Layers
}
