// SPDX-License-Identifier: MIT

package cloudevents

import (
	"context"

	"google.golang.org/grpc"
)

// ServerStream is the server-side view of one event stream.
type ServerStream interface {
	Send(*Event) error
	Recv() (*Event, error)
	Context() context.Context
}

// StreamHandler serves one bidirectional event stream. Returning ends the
// stream with the returned status.
type StreamHandler interface {
	StartStreaming(ServerStream) error
}

// RegisterService registers a stream handler on the given gRPC server. Used by
// in-process test fixtures standing in for the remote event service.
func RegisterService(s grpc.ServiceRegistrar, handler StreamHandler) {
	s.RegisterService(&serviceDesc, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StreamHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "startStreaming",
			Handler:       streamingHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "cloudevents.proto",
}

func streamingHandler(srv any, stream grpc.ServerStream) error {
	return srv.(StreamHandler).StartStreaming(&serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (x *serverStream) Send(e *Event) error {
	return x.ServerStream.SendMsg(e)
}

func (x *serverStream) Recv() (*Event, error) {
	e := new(Event)
	if err := x.ServerStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}
