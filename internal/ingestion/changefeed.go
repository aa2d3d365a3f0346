package ingestion

import (
	"context"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/changefeed"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// ChangeFeedHandler feeds change-feed batches into the pipeline. Only a
// transport failure holds the checkpoint back. Malformed batches have been
// dead-lettered and are skipped.
func ChangeFeedHandler(processor Processor, logger *logging.Logger) changefeed.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(ctx context.Context, batch changefeed.Batch) error {
		event := model.NewRawEvent(model.SourceChangeFeed, batch.Feed, batch.Payload())
		out, err := processor.Process(ctx, event)
		switch {
		case model.IsTransportError(err):
			return err
		case err != nil:
			logger.WarnContext(logging.WithInvocationID(ctx, event.ID), "change feed batch skipped",
				logging.Origin(batch.Feed), logging.Records(len(batch.Documents)), logging.Error(err))
		case out.Rejected:
			logger.WarnContext(logging.WithInvocationID(ctx, event.ID), "change feed batch rejected by device",
				logging.Origin(batch.Feed), logging.Status(out.Status))
		}
		return nil
	}
}
