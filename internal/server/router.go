package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/handlers"
)

// NewRouter wires HTTP routes for the bridge.
func NewRouter(h *handlers.BridgeHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/api/v1/dlq", h.DLQ)
	mux.HandleFunc("/api/v1/normalize", h.Normalize)
	mux.Handle("/metrics", promhttp.Handler())
	return InvocationID(mux)
}
