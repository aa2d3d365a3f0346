// Package handlers serves the HTTP operations surface of the bridge.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/dlq"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/normalizer"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/pipeline"
)

// HealthReporter exposes processor counters.
type HealthReporter interface {
	Health() pipeline.Stats
}

// BridgeHandler manages the health, DLQ and dry-run normalization endpoints.
type BridgeHandler struct {
	processor   HealthReporter
	broker      messaging.Client
	dlq         dlq.Queue
	normalizers *normalizer.Registry
}

// NewBridgeHandler constructs a new handler. broker and dead may be nil.
func NewBridgeHandler(p HealthReporter, broker messaging.Client, dead dlq.Queue, registry *normalizer.Registry) *BridgeHandler {
	return &BridgeHandler{processor: p, broker: broker, dlq: dead, normalizers: registry}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Processor pipeline.Stats          `json:"processor"`
	Broker    *messaging.HealthStatus `json:"broker,omitempty"`
}

// Health handles GET /healthz.
func (h *BridgeHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	resp := HealthResponse{Status: "ok"}
	if h.processor != nil {
		resp.Processor = h.processor.Health()
	}
	status := http.StatusOK
	if h.broker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		broker := messaging.CheckClientHealth(ctx, h.broker)
		resp.Broker = &broker
		if broker.Error != "" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// DLQ handles GET /api/v1/dlq.
func (h *BridgeHandler) DLQ(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if h.dlq == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, h.dlq.Stats(r.Context()))
}

// NormalizationRequest is a dry-run normalization of a payload.
type NormalizationRequest struct {
	Source  string `json:"source"`
	Payload string `json:"payload"`
}

// NormalizationResponse returns the envelope that would be dispatched.
type NormalizationResponse struct {
	Records  int             `json:"records"`
	Envelope json.RawMessage `json:"envelope"`
}

// Normalize handles POST /api/v1/normalize. Nothing is dispatched.
func (h *BridgeHandler) Normalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req NormalizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "payload must be base64 encoded")
		return
	}

	kind := model.SourceKind(req.Source)
	if kind == "" {
		kind = model.SourceArtifact
	}
	event := model.NewRawEvent(kind, "api", payload)
	n := h.normalizers.Find(event)
	if n == nil {
		writeError(w, http.StatusBadRequest, "unsupported_source", "no normalizer for source "+string(kind))
		return
	}

	env, err := n.Normalize(r.Context(), event)
	if err != nil {
		var fe *model.FormatError
		if errors.As(err, &fe) {
			writeJSON(w, http.StatusUnprocessableEntity, formatErrorBody{
				Code:    "format_error",
				Message: err.Error(),
				Index:   fe.Index,
				Field:   fe.Field,
			})
			return
		}
		writeError(w, http.StatusBadRequest, "normalization_failed", err.Error())
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "serialization_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, NormalizationResponse{Records: env.Len(), Envelope: data})
}

type formatErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	type errorBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method is not allowed")
}
