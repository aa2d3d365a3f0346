// Package pipeline runs the outbound path for one event: normalize, dispatch
// the envelope to the device, then remove the triggering artifact.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/cleanup"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/dlq"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/normalizer"
)

// Dispatcher sends one request to a device.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.DispatchRequest) (model.DispatchResult, error)
}

// Cleaner removes the artifact named by a cleanup task.
type Cleaner interface {
	Cleanup(ctx context.Context, task *cleanup.Task) error
}

// Target is the device method every envelope is sent to.
type Target struct {
	DeviceID string
	Method   string
	Timeout  time.Duration
}

// Outcome describes how far an event travelled.
type Outcome struct {
	EventID      string `json:"event_id"`
	Records      int    `json:"records"`
	DeadLettered bool   `json:"dead_lettered,omitempty"`
	Dispatched   bool   `json:"dispatched"`
	Status       int    `json:"status,omitempty"`
	Rejected     bool   `json:"rejected,omitempty"`
	Cleaned      bool   `json:"cleaned,omitempty"`

	// CleanupErr is set when the dispatch succeeded but the artifact could
	// not be removed. The dispatch still counts as delivered.
	CleanupErr error `json:"-"`
}

// Pipeline wires the normalizers, dispatcher, cleanup coordinator and DLQ.
type Pipeline struct {
	normalizers *normalizer.Registry
	dispatcher  Dispatcher
	cleaner     Cleaner
	dlq         dlq.Queue
	target      Target
	logger      *logging.Logger
}

// New creates a pipeline. dead may be nil, in which case failed events are
// only logged.
func New(registry *normalizer.Registry, dispatcher Dispatcher, cleaner Cleaner, dead dlq.Queue, target Target, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		normalizers: registry,
		dispatcher:  dispatcher,
		cleaner:     cleaner,
		dlq:         dead,
		target:      target,
		logger:      logger,
	}
}

// Process handles one event. A normalization failure is dead-lettered and
// returned without dispatching. A non-2xx reply is not an error: the outcome is
// marked Rejected and the artifact kept. Cleanup failures are reported in the
// outcome only.
func (p *Pipeline) Process(ctx context.Context, event *model.RawEvent) (Outcome, error) {
	if p == nil {
		return Outcome{}, fmt.Errorf("pipeline not configured")
	}
	if event == nil {
		return Outcome{}, fmt.Errorf("nil event")
	}

	ctx = logging.WithInvocationID(ctx, event.ID)
	source := string(event.Kind)
	out := Outcome{EventID: event.ID}

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	metrics.EventBytesTotal.WithLabelValues(source).Add(float64(len(event.Payload)))

	n := p.normalizers.Find(event)
	if n == nil {
		err := &model.FormatError{Index: -1, Reason: fmt.Sprintf("no normalizer registered for source %s", source)}
		return p.deadLetter(ctx, event, out, err, dlq.ReasonNoNormalizer)
	}

	start := time.Now()
	env, err := n.Normalize(ctx, event)
	metrics.NormalizationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.NormalizationErrors.WithLabelValues(source).Inc()
		return p.deadLetter(ctx, event, out, err, dlq.ReasonFormat)
	}
	out.Records = env.Len()
	metrics.RecordsNormalized.Add(float64(env.Len()))

	payload, err := json.Marshal(env)
	if err != nil {
		return p.deadLetter(ctx, event, out, err, dlq.ReasonEnvelope)
	}

	result, err := p.dispatcher.Dispatch(ctx, model.DispatchRequest{
		DeviceID: p.target.DeviceID,
		Method:   p.target.Method,
		Payload:  payload,
		Timeout:  p.target.Timeout,
	})
	if err != nil {
		metrics.EventsTotal.WithLabelValues(source, "transport_error").Inc()
		return out, err
	}
	out.Dispatched = true
	out.Status = result.Status

	if !result.Succeeded() {
		out.Rejected = true
		metrics.EventsTotal.WithLabelValues(source, "rejected").Inc()
		p.logger.WarnContext(ctx, "device rejected envelope",
			logging.Source(source),
			logging.Origin(event.OriginID),
			logging.Status(result.Status),
			logging.Records(out.Records))
		return out, nil
	}
	metrics.EventsTotal.WithLabelValues(source, "dispatched").Inc()

	if event.ArtifactRef == "" || p.cleaner == nil {
		return out, nil
	}
	task, err := cleanup.NewTask(event.ArtifactRef, &result)
	if err != nil {
		out.CleanupErr = err
		return out, nil
	}
	if err := p.cleaner.Cleanup(ctx, task); err != nil {
		out.CleanupErr = err
		return out, nil
	}
	out.Cleaned = true
	return out, nil
}

func (p *Pipeline) deadLetter(ctx context.Context, event *model.RawEvent, out Outcome, cause error, reason string) (Outcome, error) {
	metrics.EventsTotal.WithLabelValues(string(event.Kind), "format_error").Inc()
	p.logger.WarnContext(ctx, "event rejected by normalizer",
		logging.Source(string(event.Kind)),
		logging.Origin(event.OriginID),
		logging.Error(cause))

	if p.dlq != nil {
		if err := p.dlq.Write(ctx, event, cause, reason); err != nil {
			p.logger.ErrorContext(ctx, "failed to dead-letter event", logging.Error(err))
		} else {
			out.DeadLettered = true
		}
	}
	return out, cause
}
