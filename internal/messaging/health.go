package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HealthStatus reports the state of a broker connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// CheckClientHealth verifies client connectivity with a round trip to the server.
// A no-responders reply still proves the round trip.
func CheckClientHealth(ctx context.Context, client Client) HealthStatus {
	var status HealthStatus
	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	start := time.Now()
	_, err := client.Request(ctx, &Message{Subject: "_HEALTH.ping", Data: []byte("ping")}, 2*time.Second)
	status.Latency = time.Since(start)
	if err != nil && !errors.Is(err, ErrNoResponders) {
		status.Error = fmt.Sprintf("health check failed: %v", err)
	}
	return status
}
