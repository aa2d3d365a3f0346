package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// Processor wraps the pipeline and captures basic telemetry.
type Processor struct {
	pipeline  *Pipeline
	startedAt time.Time
	processed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	cleanups  atomic.Uint64
}

// NewProcessor creates a new Processor instance.
func NewProcessor(p *Pipeline) *Processor {
	return &Processor{
		pipeline:  p,
		startedAt: time.Now().UTC(),
	}
}

// Process runs the pipeline against the event.
func (p *Processor) Process(ctx context.Context, event *model.RawEvent) (Outcome, error) {
	out, err := p.pipeline.Process(ctx, event)
	if err != nil {
		p.failed.Add(1)
		return out, err
	}
	p.processed.Add(1)
	if out.Rejected {
		p.rejected.Add(1)
	}
	if out.CleanupErr != nil {
		p.cleanups.Add(1)
	}
	return out, nil
}

// Stats returns a snapshot of processor metrics.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
	Rejected      uint64 `json:"rejected"`
	CleanupFailed uint64 `json:"cleanup_failed"`
}

// Health returns live status for health checks.
func (p *Processor) Health() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		Rejected:      p.rejected.Load(),
		CleanupFailed: p.cleanups.Load(),
	}
}
