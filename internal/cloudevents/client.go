// SPDX-License-Identifier: MIT

package cloudevents

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name of the event service.
const ServiceName = "org.cyoda.cloud.api.grpc.CloudEventsService"

const streamingMethod = "/" + ServiceName + "/startStreaming"

var streamingDesc = &grpc.StreamDesc{
	StreamName:    "startStreaming",
	ServerStreams: true,
	ClientStreams: true,
}

// Stream is one open bidirectional event stream.
type Stream interface {
	Send(*Event) error
	Recv() (*Event, error)
	CloseSend() error
	Context() context.Context
}

// Client opens event streams on an established gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps the given connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// StartStreaming opens the bidirectional stream. The returned Stream is closed
// by cancelling ctx or via CloseSend plus draining.
func (c *Client) StartStreaming(ctx context.Context, opts ...grpc.CallOption) (Stream, error) {
	s, err := c.cc.NewStream(ctx, streamingDesc, streamingMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &clientStream{s}, nil
}

type clientStream struct {
	grpc.ClientStream
}

func (x *clientStream) Send(e *Event) error {
	return x.ClientStream.SendMsg(e)
}

func (x *clientStream) Recv() (*Event, error) {
	e := new(Event)
	if err := x.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}
