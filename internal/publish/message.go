package publish

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/grid"
)

// Field numbers of elevation.v1.ElevationMap.
const (
	fieldFrameID    protowire.Number = 1
	fieldStampNanos protowire.Number = 2
	fieldResolution protowire.Number = 3
	fieldLengthX    protowire.Number = 4
	fieldLengthY    protowire.Number = 5
	fieldRows       protowire.Number = 6
	fieldCols       protowire.Number = 7
	fieldElevation  protowire.Number = 8
	fieldVariance   protowire.Number = 9
	fieldVarianceX  protowire.Number = 10
	fieldVarianceY  protowire.Number = 11
	fieldColor      protowire.Number = 12
	fieldSequence   protowire.Number = 13
)

// Field numbers of elevation.v1.SubscribeRequest.
const fieldClientName protowire.Number = 1

// ErrMalformedMessage is returned when a wire message cannot be decoded.
var ErrMalformedMessage = errors.New("malformed message")

// ElevationMap is the wire form of a map snapshot. Layers are row-major
// with Rows*Cols entries; NaN marks unobserved cells.
type ElevationMap struct {
	FrameID    string
	StampNanos int64
	Resolution float64
	LengthX    float64
	LengthY    float64
	Rows       uint32
	Cols       uint32
	Elevation  []float64
	Variance   []float64
	VarianceX  []float64
	VarianceY  []float64
	Color      []uint32
	Sequence   uint64
}

// SubscribeRequest opens a map stream.
type SubscribeRequest struct {
	ClientName string
}

// FromSnapshot converts a map snapshot into its wire form.
func FromSnapshot(s *elevation.Snapshot) *ElevationMap {
	return &ElevationMap{
		FrameID:    s.FrameID,
		StampNanos: stampNanos(s.Stamp),
		Resolution: s.Resolution,
		LengthX:    s.Length.X,
		LengthY:    s.Length.Y,
		Rows:       uint32(s.Rows),
		Cols:       uint32(s.Cols),
		Elevation:  s.Elevation,
		Variance:   s.Variance,
		VarianceX:  s.VarianceX,
		VarianceY:  s.VarianceY,
		Color:      s.Color,
		Sequence:   s.Sequence,
	}
}

func stampNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// Snapshot converts the wire form back into a map snapshot.
func (m *ElevationMap) Snapshot() *elevation.Snapshot {
	s := &elevation.Snapshot{
		FrameID:    m.FrameID,
		Sequence:   m.Sequence,
		Resolution: m.Resolution,
		Length:     grid.Length{X: m.LengthX, Y: m.LengthY},
		Layers: grid.Layers{
			Rows:      int(m.Rows),
			Cols:      int(m.Cols),
			Elevation: m.Elevation,
			Variance:  m.Variance,
			VarianceX: m.VarianceX,
			VarianceY: m.VarianceY,
			Color:     m.Color,
		},
	}
	if m.StampNanos != 0 {
		s.Stamp = time.Unix(0, m.StampNanos)
	}
	return s
}

// Validate checks that every layer holds Rows*Cols cells.
func (m *ElevationMap) Validate() error {
	n := int(m.Rows) * int(m.Cols)
	for name, l := range map[string]int{
		"elevation":  len(m.Elevation),
		"variance":   len(m.Variance),
		"variance_x": len(m.VarianceX),
		"variance_y": len(m.VarianceY),
		"color":      len(m.Color),
	} {
		if l != n {
			return fmt.Errorf("%w: %s has %d cells, want %dx%d", ErrMalformedMessage, name, l, m.Rows, m.Cols)
		}
	}
	return nil
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)*8))
	for _, v := range vs {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func appendPackedUint32s(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var inner []byte
	for _, v := range vs {
		inner = protowire.AppendVarint(inner, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// MarshalWire encodes m in protobuf wire format.
func (m *ElevationMap) MarshalWire() ([]byte, error) {
	b := make([]byte, 0, 64+len(m.Elevation)*4*8+len(m.Color)*4)
	if m.FrameID != "" {
		b = protowire.AppendTag(b, fieldFrameID, protowire.BytesType)
		b = protowire.AppendString(b, m.FrameID)
	}
	b = appendVarint(b, fieldStampNanos, uint64(m.StampNanos))
	b = appendDouble(b, fieldResolution, m.Resolution)
	b = appendDouble(b, fieldLengthX, m.LengthX)
	b = appendDouble(b, fieldLengthY, m.LengthY)
	b = appendVarint(b, fieldRows, uint64(m.Rows))
	b = appendVarint(b, fieldCols, uint64(m.Cols))
	b = appendPackedDoubles(b, fieldElevation, m.Elevation)
	b = appendPackedDoubles(b, fieldVariance, m.Variance)
	b = appendPackedDoubles(b, fieldVarianceX, m.VarianceX)
	b = appendPackedDoubles(b, fieldVarianceY, m.VarianceY)
	b = appendPackedUint32s(b, fieldColor, m.Color)
	b = appendVarint(b, fieldSequence, m.Sequence)
	return b, nil
}

// UnmarshalWire decodes m from protobuf wire format. Unknown fields are
// skipped; repeated fields are accepted packed or unpacked.
func (m *ElevationMap) UnmarshalWire(b []byte) error {
	*m = ElevationMap{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldFrameID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return wireError(protowire.ParseError(n))
			}
			m.FrameID = v
			b = b[n:]
		case (num == fieldStampNanos || num == fieldRows || num == fieldCols || num == fieldSequence) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return wireError(protowire.ParseError(n))
			}
			switch num {
			case fieldStampNanos:
				m.StampNanos = int64(v)
			case fieldRows:
				m.Rows = uint32(v)
			case fieldCols:
				m.Cols = uint32(v)
			case fieldSequence:
				m.Sequence = v
			}
			b = b[n:]
		case (num == fieldResolution || num == fieldLengthX || num == fieldLengthY) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return wireError(protowire.ParseError(n))
			}
			f := math.Float64frombits(v)
			switch num {
			case fieldResolution:
				m.Resolution = f
			case fieldLengthX:
				m.LengthX = f
			case fieldLengthY:
				m.LengthY = f
			}
			b = b[n:]
		case num >= fieldElevation && num <= fieldVarianceY:
			dst := m.layer(num)
			n, err := consumeDoubles(b, typ, dst)
			if err != nil {
				return err
			}
			b = b[n:]
		case num == fieldColor:
			n, err := consumeUint32s(b, typ, &m.Color)
			if err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return wireError(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *ElevationMap) layer(num protowire.Number) *[]float64 {
	switch num {
	case fieldElevation:
		return &m.Elevation
	case fieldVariance:
		return &m.Variance
	case fieldVarianceX:
		return &m.VarianceX
	default:
		return &m.VarianceY
	}
}

func consumeDoubles(b []byte, typ protowire.Type, dst *[]float64) (int, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return 0, wireError(protowire.ParseError(n))
		}
		*dst = append(*dst, math.Float64frombits(v))
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, wireError(protowire.ParseError(n))
		}
		if len(packed)%8 != 0 {
			return 0, fmt.Errorf("%w: packed doubles of %d bytes", ErrMalformedMessage, len(packed))
		}
		if *dst == nil {
			*dst = make([]float64, 0, len(packed)/8)
		}
		for len(packed) > 0 {
			v, k := protowire.ConsumeFixed64(packed)
			*dst = append(*dst, math.Float64frombits(v))
			packed = packed[k:]
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unexpected wire type %d for double", ErrMalformedMessage, typ)
	}
}

func consumeUint32s(b []byte, typ protowire.Type, dst *[]uint32) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, wireError(protowire.ParseError(n))
		}
		*dst = append(*dst, uint32(v))
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, wireError(protowire.ParseError(n))
		}
		for len(packed) > 0 {
			v, k := protowire.ConsumeVarint(packed)
			if k < 0 {
				return 0, wireError(protowire.ParseError(k))
			}
			*dst = append(*dst, uint32(v))
			packed = packed[k:]
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unexpected wire type %d for uint32", ErrMalformedMessage, typ)
	}
}

// MarshalWire encodes r in protobuf wire format.
func (r *SubscribeRequest) MarshalWire() ([]byte, error) {
	var b []byte
	if r.ClientName != "" {
		b = protowire.AppendTag(b, fieldClientName, protowire.BytesType)
		b = protowire.AppendString(b, r.ClientName)
	}
	return b, nil
}

// UnmarshalWire decodes r from protobuf wire format.
func (r *SubscribeRequest) UnmarshalWire(b []byte) error {
	*r = SubscribeRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldClientName && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return wireError(protowire.ParseError(n))
			}
			r.ClientName = v
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return wireError(protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func wireError(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
}
