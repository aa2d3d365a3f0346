package ingestion

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/artifact"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// ArtifactWatcher turns newly stored artifacts into pipeline invocations on a
// bounded worker pool. The same artifact name is never processed twice
// concurrently.
type ArtifactWatcher struct {
	store     artifact.Store
	processor Processor
	workers   int
	logger    *logging.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewArtifactWatcher(store artifact.Store, processor Processor, workers int, logger *logging.Logger) *ArtifactWatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ArtifactWatcher{
		store:     store,
		processor: processor,
		workers:   workers,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// Run watches the store until ctx ends and waits for running invocations.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	updates, err := w.store.Watch(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("artifact watcher started", "workers", w.workers)

	var g errgroup.Group
	g.SetLimit(w.workers)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case obj, ok := <-updates:
			if !ok {
				break loop
			}
			if !w.claim(obj.Name) {
				w.logger.Debug("artifact already in flight", logging.Artifact(obj.Name))
				continue
			}
			g.Go(func() error {
				defer w.release(obj.Name)
				w.handle(ctx, obj)
				return nil
			})
		}
	}
	return g.Wait()
}

func (w *ArtifactWatcher) handle(ctx context.Context, obj artifact.Object) {
	data, err := w.store.Get(ctx, obj.Name)
	if errors.Is(err, artifact.ErrNotFound) {
		w.logger.Debug("artifact gone before processing", logging.Artifact(obj.Name))
		return
	}
	if err != nil {
		w.logger.Error("failed to read artifact", logging.Artifact(obj.Name), logging.Error(err))
		return
	}

	event := model.NewRawEvent(model.SourceArtifact, obj.Name, data)
	event.ArtifactRef = obj.Name

	out, err := w.processor.Process(ctx, event)
	if err != nil {
		// Normalization failures are already dead-lettered by the pipeline.
		w.logger.WarnContext(logging.WithInvocationID(ctx, event.ID), "artifact not delivered",
			logging.Artifact(obj.Name), logging.Error(err))
		return
	}
	if out.CleanupErr != nil {
		w.logger.WarnContext(logging.WithInvocationID(ctx, event.ID), "artifact delivered but not removed",
			logging.Artifact(obj.Name), logging.Error(out.CleanupErr))
	}
}

func (w *ArtifactWatcher) claim(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[name]; busy {
		return false
	}
	w.inflight[name] = struct{}{}
	return true
}

func (w *ArtifactWatcher) release(name string) {
	w.mu.Lock()
	delete(w.inflight, name)
	w.mu.Unlock()
}
