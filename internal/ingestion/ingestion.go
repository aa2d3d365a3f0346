// Package ingestion connects the event sources to the outbound pipeline and
// the document sink.
package ingestion

import (
	"context"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/pipeline"
)

// Processor runs one event through the outbound pipeline.
type Processor interface {
	Process(ctx context.Context, event *model.RawEvent) (pipeline.Outcome, error)
}
