// Package cleanup removes a triggering artifact once its dispatch is confirmed.
package cleanup

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/artifact"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

var (
	// ErrDispatchNotConfirmed is returned by NewTask for a missing or non-2xx result.
	ErrDispatchNotConfirmed = errors.New("cleanup: dispatch was not confirmed successful")
	// ErrNoArtifact is returned by NewTask for an empty artifact reference.
	ErrNoArtifact = errors.New("cleanup: no artifact reference")
)

// Task deletes one artifact. It can only be built from a successful dispatch
// result and performs its delete at most once.
type Task struct {
	ref  string
	used atomic.Bool
}

// NewTask returns a task for ref, provided result is a 2xx dispatch result.
func NewTask(ref string, result *model.DispatchResult) (*Task, error) {
	if !result.Succeeded() {
		return nil, ErrDispatchNotConfirmed
	}
	if ref == "" {
		return nil, ErrNoArtifact
	}
	return &Task{ref: ref}, nil
}

func (t *Task) ArtifactRef() string { return t.ref }

// Done reports whether the task has already run.
func (t *Task) Done() bool { return t.used.Load() }

// Coordinator executes cleanup tasks against an artifact store.
type Coordinator struct {
	store  artifact.Store
	logger *logging.Logger
}

func NewCoordinator(store artifact.Store, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// Cleanup deletes the task's artifact. An already absent artifact is success,
// and a task that already ran returns nil without touching the store.
// Failures are *model.CleanupError and never undo the dispatch.
func (c *Coordinator) Cleanup(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrDispatchNotConfirmed
	}
	if !task.used.CompareAndSwap(false, true) {
		metrics.CleanupTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := c.store.Delete(ctx, task.ref); err != nil {
		metrics.CleanupTotal.WithLabelValues("failed").Inc()
		c.logger.ErrorContext(ctx, "artifact cleanup failed", logging.Artifact(task.ref), logging.Error(err))
		return &model.CleanupError{ArtifactRef: task.ref, Err: err}
	}

	metrics.CleanupTotal.WithLabelValues("deleted").Inc()
	c.logger.InfoContext(ctx, "artifact removed", logging.Artifact(task.ref))
	return nil
}
