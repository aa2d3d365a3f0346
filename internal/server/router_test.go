package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/dlq"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/handlers"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/normalizer"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/pipeline"
)

func TestNewRouter(t *testing.T) {
	proc := pipeline.NewProcessor(nil)
	router := NewRouter(handlers.NewBridgeHandler(proc, nil, dlq.NewMemoryQueue(), normalizer.Default("data")))

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/v1/dlq", http.StatusOK},
		{http.MethodGet, "/api/v1/normalize", http.StatusMethodNotAllowed},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMetricsExposeBridgeCounters(t *testing.T) {
	router := NewRouter(handlers.NewBridgeHandler(pipeline.NewProcessor(nil), nil, nil, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "telhawk_devicebridge_inflight_events")
}

func TestInvocationID(t *testing.T) {
	var seen string
	handler := InvocationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.InvocationID(r.Context())
	}))

	t.Run("propagates header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(HeaderRequestID, "req-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
	})

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	})
}
