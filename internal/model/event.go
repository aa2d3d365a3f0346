package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies which ingestion source produced a RawEvent.
type SourceKind string

const (
	// SourceArtifact is a newly stored object in the artifact store.
	SourceArtifact SourceKind = "artifact"
	// SourceChangeFeed is a batch of committed document-store changes.
	SourceChangeFeed SourceKind = "changefeed"
	// SourceRelay is a single message relayed from a device.
	SourceRelay SourceKind = "relay"
)

// RawEvent carries the opaque bytes handed over by an ingestion source.
// It is consumed once by the normalizer or the document sink.
type RawEvent struct {
	ID         string     `json:"id"`
	OriginID   string     `json:"origin_id"`
	Kind       SourceKind `json:"kind"`
	Payload    []byte     `json:"payload"`
	ReceivedAt time.Time  `json:"received_at"`

	// ArtifactRef names the triggering artifact when the source has one.
	// Only events with an ArtifactRef are eligible for cleanup.
	ArtifactRef string `json:"artifact_ref,omitempty"`
}

// NewRawEvent stamps a RawEvent with a fresh ID and receive time.
func NewRawEvent(kind SourceKind, originID string, payload []byte) *RawEvent {
	return &RawEvent{
		ID:         uuid.New().String(),
		OriginID:   originID,
		Kind:       kind,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

// SinkTarget is the (database, collection) pair an inbound message is written to.
// It is resolved once per message.
type SinkTarget struct {
	DatabaseID   string `json:"database_id"`
	CollectionID string `json:"collection_id"`
}
