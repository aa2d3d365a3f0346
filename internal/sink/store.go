package sink

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// ErrAlreadyExists is returned by a create that lost a race with another writer.
var ErrAlreadyExists = errors.New("resource already exists")

// DocumentStore is the persistence backend of the sink.
type DocumentStore interface {
	DatabaseExists(ctx context.Context, databaseID string) (bool, error)
	CreateDatabase(ctx context.Context, databaseID string) error
	CollectionExists(ctx context.Context, target model.SinkTarget) (bool, error)
	CreateCollection(ctx context.Context, target model.SinkTarget) error
	// Insert appends doc to the target collection and returns its new id.
	Insert(ctx context.Context, target model.SinkTarget, doc json.RawMessage) (string, error)
}
