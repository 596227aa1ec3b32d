// SPDX-License-Identifier: MIT

// Package cloudevents carries the wire envelope exchanged with the Cyoda
// calculation-node event service: a CloudEvents v1 message with a JSON text
// payload, transported over a single bidirectional streaming RPC.
package cloudevents

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SpecVersion is the CloudEvents spec version stamped on every event.
const SpecVersion = "1.0"

// Event is the stream envelope. Field numbers follow the CloudEvents v1
// protobuf descriptor; TextData sits at field 7 inside the data oneof.
type Event struct {
	ID          string
	Source      string
	SpecVersion string
	Type        string
	TextData    string
}

const (
	fieldID          = protowire.Number(1)
	fieldSource      = protowire.Number(2)
	fieldSpecVersion = protowire.Number(3)
	fieldType        = protowire.Number(4)
	fieldTextData    = protowire.Number(7)
)

// Marshal encodes the event in protobuf wire format.
func (e *Event) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldID, e.ID)
	b = appendString(b, fieldSource, e.Source)
	b = appendString(b, fieldSpecVersion, e.SpecVersion)
	b = appendString(b, fieldType, e.Type)
	// The data oneof is always the text variant; an empty payload is still a
	// set oneof member and must be emitted.
	b = protowire.AppendTag(b, fieldTextData, protowire.BytesType)
	b = protowire.AppendString(b, e.TextData)
	return b
}

// Unmarshal decodes an event from protobuf wire format, skipping fields this
// client does not consume (attributes, binary and proto data variants).
func (e *Event) Unmarshal(data []byte) error {
	*e = Event{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("cloudevents: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ == protowire.BytesType {
			if dst := e.stringField(num); dst != nil {
				s, n := protowire.ConsumeString(data)
				if n < 0 {
					return fmt.Errorf("cloudevents: malformed field %d: %w", num, protowire.ParseError(n))
				}
				*dst = s
				data = data[n:]
				continue
			}
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return fmt.Errorf("cloudevents: malformed field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}

func (e *Event) stringField(num protowire.Number) *string {
	switch num {
	case fieldID:
		return &e.ID
	case fieldSource:
		return &e.Source
	case fieldSpecVersion:
		return &e.SpecVersion
	case fieldType:
		return &e.Type
	case fieldTextData:
		return &e.TextData
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
