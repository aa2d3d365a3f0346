package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
)

// HeaderRequestID carries the invocation id of an HTTP request.
const HeaderRequestID = "X-Request-ID"

// InvocationID propagates X-Request-ID, or generates one, and stores it as the
// invocation id of the request context so handler logs can be correlated.
func InvocationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logging.WithInvocationID(r.Context(), id)))
	})
}
