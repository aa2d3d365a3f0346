package model

import (
	"encoding/json"
	"time"
)

// DispatchRequest addresses one remote method invocation.
type DispatchRequest struct {
	DeviceID string          `json:"device_id"`
	Method   string          `json:"method"`
	Payload  json.RawMessage `json:"payload"`
	Timeout  time.Duration   `json:"timeout"`
}

// DispatchResult is the device's reply, passed through uninterpreted.
type DispatchResult struct {
	Status   int             `json:"status"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Succeeded reports whether the device answered with a 2xx status.
func (r *DispatchResult) Succeeded() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}
