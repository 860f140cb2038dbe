package pointcloud

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Datagram layout, little endian:
//
//	magic     [4]byte  "EPC1"
//	stamp     int64    unix nanoseconds
//	frameLen  uint8
//	frameID   [frameLen]byte
//	count     uint32
//	points    count * (float32 x, y, z; uint8 r, g, b)
const (
	Magic       = "EPC1"
	headerSize  = 4 + 8 + 1
	countSize   = 4
	PointSize   = 3*4 + 3
	MaxFrameLen = math.MaxUint8
)

// ErrMalformedDatagram is returned for datagrams that do not follow the
// point-cloud layout.
var ErrMalformedDatagram = errors.New("malformed point cloud datagram")

// EncodedSize returns the datagram size for a cloud with the given frame id
// length and point count.
func EncodedSize(frameLen, points int) int {
	return headerSize + frameLen + countSize + points*PointSize
}

// Encode serialises c into a datagram. Coordinates are narrowed to float32.
func Encode(c *Cloud) ([]byte, error) {
	if len(c.FrameID) > MaxFrameLen {
		return nil, fmt.Errorf("frame id %q longer than %d bytes", c.FrameID, MaxFrameLen)
	}
	if uint64(len(c.Points)) > math.MaxUint32 {
		return nil, fmt.Errorf("too many points: %d", len(c.Points))
	}

	buf := make([]byte, 0, EncodedSize(len(c.FrameID), len(c.Points)))
	buf = append(buf, Magic...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Stamp.UnixNano()))
	buf = append(buf, uint8(len(c.FrameID)))
	buf = append(buf, c.FrameID...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Points)))
	for _, p := range c.Points {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.X)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.Y)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.Z)))
		buf = append(buf, p.R, p.G, p.B)
	}
	return buf, nil
}

// Decode parses a datagram produced by Encode.
func Decode(data []byte) (*Cloud, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedDatagram, len(data))
	}
	if string(data[0:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedDatagram, data[0:4])
	}
	stamp := int64(binary.LittleEndian.Uint64(data[4:12]))
	frameLen := int(data[12])

	off := headerSize
	if len(data) < off+frameLen+countSize {
		return nil, fmt.Errorf("%w: truncated frame id", ErrMalformedDatagram)
	}
	frameID := string(data[off : off+frameLen])
	off += frameLen

	count := int(binary.LittleEndian.Uint32(data[off : off+countSize]))
	off += countSize
	if want := off + count*PointSize; len(data) != want {
		return nil, fmt.Errorf("%w: expected %d bytes for %d points, got %d",
			ErrMalformedDatagram, want, count, len(data))
	}

	c := &Cloud{FrameID: frameID, Stamp: time.Unix(0, stamp), Points: make([]Point, count)}
	for i := range c.Points {
		p := data[off : off+PointSize]
		c.Points[i] = Point{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:4]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:8]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:12]))),
			R: p[12],
			G: p[13],
			B: p[14],
		}
		off += PointSize
	}
	return c, nil
}
