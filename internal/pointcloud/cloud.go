// Package pointcloud carries colored 3-D point batches between the network
// ingest and the elevation map, with the filtering and frame transform
// applied before fusion.
package pointcloud

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/elevation.map/internal/frames"
)

// Point is one colored return in the frame of its Cloud.
type Point struct {
	X, Y, Z float64
	R, G, B uint8
}

// Cloud is one batch of points captured at Stamp in frame FrameID.
type Cloud struct {
	FrameID string
	Stamp   time.Time
	Points  []Point
}

// Len returns the number of points in the cloud.
func (c *Cloud) Len() int { return len(c.Points) }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Clean returns a copy of c keeping only finite points whose z lies in
// [0, cutoffDepth]. The input cloud is not modified.
func Clean(c *Cloud, cutoffDepth float64) *Cloud {
	out := &Cloud{FrameID: c.FrameID, Stamp: c.Stamp, Points: make([]Point, 0, len(c.Points))}
	for _, p := range c.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			continue
		}
		if p.Z < 0 || p.Z > cutoffDepth {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out
}

// Transform maps every point of c through tf and returns a new cloud in
// targetFrame. Colors and the stamp are carried over.
func Transform(c *Cloud, tf frames.Transform, targetFrame string) (*Cloud, error) {
	m := tf.Matrix()
	if !frames.IsValidTransformMatrix(m) {
		return nil, fmt.Errorf("transform %s -> %s is not a rigid transform", c.FrameID, targetFrame)
	}

	out := &Cloud{FrameID: targetFrame, Stamp: c.Stamp, Points: make([]Point, len(c.Points))}
	for i, p := range c.Points {
		x, y, z := frames.ApplyMatrix(p.X, p.Y, p.Z, m)
		out.Points[i] = Point{X: x, Y: y, Z: z, R: p.R, G: p.G, B: p.B}
	}
	return out, nil
}
