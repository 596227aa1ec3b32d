// SPDX-License-Identifier: MIT

package cloudevents

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// codec replaces the default proto codec so Event values can cross the wire
// without generated protobuf bindings. Regular proto messages still marshal
// through the protobuf runtime.
type codec struct{}

func init() {
	encoding.RegisterCodec(codec{})
}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *Event:
		return m.Marshal(), nil
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("cloudevents: cannot marshal %T", v)
}

func (codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *Event:
		return m.Unmarshal(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("cloudevents: cannot unmarshal into %T", v)
}
