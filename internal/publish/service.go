package publish

import (
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "elevation.v1.ElevationMapService"

const streamMapsMethod = "/" + ServiceName + "/StreamMaps"

// MapStream is the server side of a StreamMaps call.
type MapStream interface {
	Send(*ElevationMap) error
	grpc.ServerStream
}

// MapServiceServer is the server API for ElevationMapService.
type MapServiceServer interface {
	// StreamMaps sends every published map until the client goes away.
	StreamMaps(*SubscribeRequest, MapStream) error
}

type mapStream struct {
	grpc.ServerStream
}

func (s *mapStream) Send(m *ElevationMap) error {
	return s.ServerStream.SendMsg(m)
}

func streamMapsHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(MapServiceServer).StreamMaps(req, &mapStream{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MapServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamMaps",
			Handler:       streamMapsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "elevation/v1/elevation_map.proto",
}

// RegisterMapServiceServer registers srv on s.
func RegisterMapServiceServer(s grpc.ServiceRegistrar, srv MapServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}
