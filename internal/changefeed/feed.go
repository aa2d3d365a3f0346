// Package changefeed turns committed rows of the telemetry document table
// into ordered, at-least-once batches.
package changefeed

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
)

// ErrNotLeaseHolder is returned by Poll while another process owns the feed.
var ErrNotLeaseHolder = errors.New("changefeed: lease held by another owner")

// Batch is a contiguous run of documents after the last checkpoint.
type Batch struct {
	Feed      string
	Documents []Document
}

// Last returns the cursor of the final document, or the zero Cursor for an empty batch.
func (b Batch) Last() Cursor {
	if len(b.Documents) == 0 {
		return Cursor{}
	}
	return b.Documents[len(b.Documents)-1].Cursor()
}

// Payload encodes the batch as a JSON array of document bodies.
func (b Batch) Payload() []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, doc := range b.Documents {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(bytes.TrimSpace(doc.Body))
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// Handler processes a batch. Returning an error leaves the checkpoint in
// place so the same batch is delivered again.
type Handler func(ctx context.Context, batch Batch) error

type Config struct {
	Name         string
	Owner        string
	BatchSize    int
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

// Feed polls a Repository and hands batches to a Handler, one at a time.
type Feed struct {
	cfg     Config
	repo    Repository
	handler Handler
	logger  *logging.Logger
}

func NewFeed(cfg Config, repo Repository, handler Handler, logger *logging.Logger) *Feed {
	if cfg.Name == "" {
		cfg.Name = "telemetry"
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Feed{cfg: cfg, repo: repo, handler: handler, logger: logger}
}

// Poll runs one lease-fetch-handle-commit cycle and reports how many
// documents were committed.
func (f *Feed) Poll(ctx context.Context) (int, error) {
	checkpoint, ok, err := f.repo.AcquireLease(ctx, f.cfg.Name, f.cfg.Owner, f.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotLeaseHolder
	}

	docs, err := f.repo.FetchBatch(ctx, checkpoint, f.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := Batch{Feed: f.cfg.Name, Documents: docs}
	if err := f.handler(ctx, batch); err != nil {
		metrics.ChangeFeedBatches.WithLabelValues("retry").Inc()
		return 0, err
	}
	if err := f.repo.Commit(ctx, f.cfg.Name, f.cfg.Owner, batch.Last()); err != nil {
		metrics.ChangeFeedBatches.WithLabelValues("uncommitted").Inc()
		return 0, err
	}

	metrics.ChangeFeedBatches.WithLabelValues("committed").Inc()
	last := batch.Last()
	metrics.ChangeFeedCheckpoint.WithLabelValues(f.cfg.Name).Set(float64(last.Seq))
	f.logger.DebugContext(ctx, "change feed checkpoint advanced",
		slog.String("feed", f.cfg.Name),
		slog.Int64("txid", last.TxID),
		slog.Int64("checkpoint", last.Seq),
		logging.Records(len(docs)))
	return len(docs), nil
}

// Run polls until ctx ends, then releases the lease.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("change feed started", slog.String("feed", f.cfg.Name), slog.String("owner", f.cfg.Owner))
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := f.repo.Release(releaseCtx, f.cfg.Name, f.cfg.Owner); err != nil {
			f.logger.Warn("failed to release change feed lease", logging.Error(err))
		}
	}()

	for {
		n, err := f.Poll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrNotLeaseHolder):
			f.logger.Debug("change feed lease held elsewhere", slog.String("feed", f.cfg.Name))
		case err != nil:
			f.logger.Warn("change feed batch not committed", slog.String("feed", f.cfg.Name), logging.Error(err))
		case n > 0:
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.cfg.PollInterval):
		}
	}
}
