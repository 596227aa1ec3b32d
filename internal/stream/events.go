// SPDX-License-Identifier: MIT

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cyoda-platform/calcnode/internal/cloudevents"
)

// Event types of the calculation-node protocol.
const (
	TypeJoin             = "CalculationMemberJoinEvent"
	TypeGreet            = "CalculationMemberGreetEvent"
	TypeKeepAlive        = "CalculationMemberKeepAliveEvent"
	TypeEventAck         = "EventAckResponse"
	TypeCalcRequest      = "EntityProcessorCalculationRequest"
	TypeCalcResponse     = "EntityProcessorCalculationResponse"
	TypeCriteriaRequest  = "EntityCriteriaCalculationRequest"
	TypeCriteriaResponse = "EntityCriteriaCalculationResponse"
)

// newEvent builds an outbound envelope with a fresh id and the JSON-encoded
// payload.
func newEvent(source, eventType string, payload any) (*cloudevents.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("stream: encode %s payload: %w", eventType, err)
	}
	return &cloudevents.Event{
		ID:          uuid.NewString(),
		Source:      source,
		SpecVersion: cloudevents.SpecVersion,
		Type:        eventType,
		TextData:    string(data),
	}, nil
}

// joinEvent announces this client's owner and processing-node tags. It is the
// first message on every stream session.
func (c *Client) joinEvent() (*cloudevents.Event, error) {
	return newEvent(c.cfg.Source, TypeJoin, map[string]any{
		"owner": c.cfg.Owner,
		"tags":  c.cfg.Tags,
	})
}

// ackEvent acknowledges a keep-alive, referencing the inbound envelope id.
func (c *Client) ackEvent(sourceEventID string) (*cloudevents.Event, error) {
	return newEvent(c.cfg.Source, TypeEventAck, map[string]any{
		"sourceEventId": sourceEventID,
		"owner":         c.cfg.Owner,
		"payload":       nil,
		"success":       true,
	})
}

// calcResponse answers a processor-calculation request, echoing the request
// payload. success is always true regardless of handler outcome; the upstream
// protocol has no failure reply (observed behaviour, likely masking handler
// errors, but preserved).
func (c *Client) calcResponse(request map[string]any) (*cloudevents.Event, error) {
	return newEvent(c.cfg.Source, TypeCalcResponse, map[string]any{
		"requestId": request["requestId"],
		"entityId":  request["entityId"],
		"owner":     c.cfg.Owner,
		"payload":   request["payload"],
		"success":   true,
	})
}

// criteriaResponse answers a criteria-calculation request with the evaluated
// match verdict.
func (c *Client) criteriaResponse(request map[string]any, matches bool) (*cloudevents.Event, error) {
	return newEvent(c.cfg.Source, TypeCriteriaResponse, map[string]any{
		"requestId": request["requestId"],
		"entityId":  request["entityId"],
		"owner":     c.cfg.Owner,
		"matches":   matches,
		"success":   true,
	})
}
