package publish

import "fmt"

// wireMessage is implemented by the message types of the map service.
type wireMessage interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

// codec is a grpc encoding.Codec for wireMessage types. It registers under
// the "proto" name so peers using generated protobuf code interoperate.
type codec struct{}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("publish codec: cannot marshal %T", v)
	}
	return m.MarshalWire()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("publish codec: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}
