package publish

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client subscribes to a remote ElevationMapService.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to target without transport security. Extra options
// are appended after the defaults.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(codec{}), grpc.MaxCallRecvMsgSize(64*1024*1024)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to map service %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// MapReceiver is the client side of a StreamMaps call.
type MapReceiver struct {
	stream grpc.ClientStream
}

// StreamMaps opens a map stream. The stream ends when ctx is cancelled.
func (c *Client) StreamMaps(ctx context.Context, req *SubscribeRequest) (*MapReceiver, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], streamMapsMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &MapReceiver{stream: stream}, nil
}

// Recv blocks for the next map.
func (r *MapReceiver) Recv() (*ElevationMap, error) {
	m := new(ElevationMap)
	if err := r.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
