// SPDX-License-Identifier: MIT
package cloudevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEvent_WireLayout(t *testing.T) {
	e := &Event{
		ID:          "evt-1",
		Source:      "SimpleSample",
		SpecVersion: SpecVersion,
		Type:        "CalculationMemberJoinEvent",
		TextData:    `{"owner":"PLAY"}`,
	}

	var want []byte
	for _, f := range []struct {
		num protowire.Number
		val string
	}{
		{1, e.ID}, {2, e.Source}, {3, e.SpecVersion}, {4, e.Type}, {7, e.TextData},
	} {
		want = protowire.AppendTag(want, f.num, protowire.BytesType)
		want = protowire.AppendString(want, f.val)
	}

	assert.Equal(t, want, e.Marshal())

	var got Event
	require.NoError(t, got.Unmarshal(e.Marshal()))
	assert.Equal(t, *e, got)
}

func TestEvent_UnmarshalSkipsUnknownFields(t *testing.T) {
	// id (field 1), an attributes map entry (field 5, skipped), a varint at an
	// unknown field number, then type (field 4).
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "evt-2")
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x0a, 0x01, 0x6b})
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, "CalculationMemberGreetEvent")

	var got Event
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, "evt-2", got.ID)
	assert.Equal(t, "CalculationMemberGreetEvent", got.Type)
	assert.Empty(t, got.TextData)
}

func TestEvent_UnmarshalMalformed(t *testing.T) {
	var got Event
	require.Error(t, got.Unmarshal([]byte{0x0a, 0xff}))
}

func TestEvent_EmptyPayloadStillCarriesDataField(t *testing.T) {
	e := &Event{ID: "evt-3"}
	b := e.Marshal()

	var got Event
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, "evt-3", got.ID)

	// The last field on the wire must be the (empty) text_data oneof member.
	num, typ, n := protowire.ConsumeTag(b[len(b)-2:])
	require.Positive(t, n)
	assert.Equal(t, protowire.Number(7), num)
	assert.Equal(t, protowire.BytesType, typ)
}
