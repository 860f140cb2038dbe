package publish

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/grid"
)

func sampleSnapshot() *elevation.Snapshot {
	nan := math.NaN()
	return &elevation.Snapshot{
		FrameID:    "elevation_map",
		Stamp:      time.Unix(1700000000, 5),
		Sequence:   7,
		Resolution: 1,
		Length:     grid.Length{X: 2, Y: 2},
		Layers: grid.Layers{
			Rows:      2,
			Cols:      2,
			Elevation: []float64{nan, nan, nan, 1.5},
			Variance:  []float64{nan, nan, nan, 0.15},
			VarianceX: []float64{nan, nan, nan, 0.1},
			VarianceY: []float64{nan, nan, nan, 0.1},
			Color:     []uint32{0, 0, 0, 0xFF8000},
		},
	}
}

func TestElevationMap_WireRoundTrip(t *testing.T) {
	msg := FromSnapshot(sampleSnapshot())
	require.NoError(t, msg.Validate())

	data, err := msg.MarshalWire()
	require.NoError(t, err)

	var got ElevationMap
	require.NoError(t, got.UnmarshalWire(data))
	if diff := cmp.Diff(msg, &got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	back := got.Snapshot()
	if diff := cmp.Diff(sampleSnapshot(), back, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestElevationMap_UnpackedAndUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldFrameID, protowire.BytesType)
	b = protowire.AppendString(b, "m")
	b = protowire.AppendTag(b, 99, protowire.VarintType) // unknown
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, fieldRows, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, fieldCols, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)
	for _, v := range []float64{0.5, -0.5} {
		b = protowire.AppendTag(b, fieldElevation, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	for _, v := range []uint32{1, 2} {
		b = protowire.AppendTag(b, fieldColor, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}

	var got ElevationMap
	require.NoError(t, got.UnmarshalWire(b))
	assert.Equal(t, "m", got.FrameID)
	assert.Equal(t, []float64{0.5, -0.5}, got.Elevation)
	assert.Equal(t, []uint32{1, 2}, got.Color)
	assert.Error(t, got.Validate(), "variance layers are missing")
}

func TestElevationMap_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated tag", []byte{0x80}},
		{"truncated string", []byte{0x0a, 0x05, 'a'}},
		{"bad packed length", append(protowire.AppendTag(nil, fieldVariance, protowire.BytesType), 3, 1, 2, 3)},
		{"wrong wire type", protowire.AppendVarint(protowire.AppendTag(nil, fieldElevation, protowire.VarintType), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m ElevationMap
			err := m.UnmarshalWire(tt.data)
			assert.True(t, errors.Is(err, ErrMalformedMessage), "got %v", err)
		})
	}
}

func TestSubscribeRequest_Wire(t *testing.T) {
	data, err := (&SubscribeRequest{ClientName: "viewer"}).MarshalWire()
	require.NoError(t, err)

	var got SubscribeRequest
	require.NoError(t, got.UnmarshalWire(data))
	assert.Equal(t, "viewer", got.ClientName)

	empty, err := (&SubscribeRequest{}).MarshalWire()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCodec_RejectsForeignTypes(t *testing.T) {
	_, err := codec{}.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, codec{}.Unmarshal(nil, 42))
	assert.Equal(t, "proto", codec{}.Name())
}
