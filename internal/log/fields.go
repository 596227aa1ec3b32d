// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldEventID   = "event_id"
	FieldRequestID = "request_id"
	FieldEntityID  = "entity_id"

	// Protocol fields
	FieldEventType = "event_type"
	FieldProcessor = "processor"
	FieldOwner     = "owner"

	// Process fields
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldBackoff   = "backoff"

	// Network fields
	FieldAddress = "address"
	FieldStatus  = "status"
	FieldPath    = "path"
)
