// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			if got := RequestIDFromContext(ctx); got != tt.want {
				t.Fatalf("RequestIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithContext_EnrichesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithEventID(ctx, "evt-1")

	enriched := WithContext(ctx, logger)
	enriched.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log JSON: %v", err)
	}
	if entry[FieldRequestID] != "req-1" {
		t.Errorf("expected request_id req-1, got %v", entry[FieldRequestID])
	}
	if entry[FieldEventID] != "evt-1" {
		t.Errorf("expected event_id evt-1, got %v", entry[FieldEventID])
	}
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	plain := WithContext(context.Background(), logger)
	plain.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log JSON: %v", err)
	}
	if _, ok := entry[FieldRequestID]; ok {
		t.Error("request_id should not be present without context value")
	}
}

func TestEventIDFromContext_Missing(t *testing.T) {
	if got := EventIDFromContext(context.Background()); got != "" {
		t.Fatalf("EventIDFromContext() = %q, want empty", got)
	}
	if got := EventIDFromContext(nil); got != "" {
		t.Fatalf("EventIDFromContext(nil) = %q, want empty", got)
	}
}
