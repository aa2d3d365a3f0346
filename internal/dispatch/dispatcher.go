// Package dispatch invokes named methods on remote devices over NATS request/reply.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
	natsclient "github.com/telhawk-systems/telhawk-devicebridge/internal/messaging/nats"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// DefaultTimeout bounds a dispatch when neither the request nor the config sets one.
const DefaultTimeout = 30 * time.Second

// Transport error reasons.
const (
	ReasonConnect        = "connect"
	ReasonTimeout        = "timeout"
	ReasonNoResponders   = "no_responders"
	ReasonInvalidReply   = "invalid_reply"
	ReasonInvalidRequest = "invalid_request"
	ReasonRequest        = "request"
	ReasonClosed         = "closed"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Requester performs one request/reply exchange.
type Requester interface {
	Request(ctx context.Context, msg *messaging.Message, timeout time.Duration) (*messaging.Message, error)
	Close() error
}

// Connector builds the shared Requester. It is called at most once per
// successful construction.
type Connector func(ctx context.Context) (Requester, error)

// NATSConnector returns a Connector dialing NATS with cfg. The dial timeout
// is shortened to the ctx deadline when that comes first.
func NATSConnector(cfg natsclient.Config) Connector {
	return func(ctx context.Context) (Requester, error) {
		c := cfg
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, context.DeadlineExceeded
			}
			if c.Timeout <= 0 || remaining < c.Timeout {
				c.Timeout = remaining
			}
		}
		return natsclient.NewClient(c)
	}
}

// Config controls subject naming and the default timeout.
type Config struct {
	SubjectPrefix string
	Timeout       time.Duration
}

// Dispatcher invokes device methods. It is safe for concurrent use.
// The underlying connection is created on first use.
type Dispatcher struct {
	cfg     Config
	connect Connector
	logger  *logging.Logger

	handle atomic.Pointer[handle]
	// sem guards connect and close. It is a channel so waiters can give up
	// at their deadline.
	sem    chan struct{}
	closed bool
}

type handle struct {
	r Requester
}

// New creates a Dispatcher. No connection is made until the first Dispatch.
func New(cfg Config, connect Connector, logger *logging.Logger) *Dispatcher {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "devices"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{cfg: cfg, connect: connect, logger: logger, sem: make(chan struct{}, 1)}
}

// reply is the wire shape a device answers with.
type reply struct {
	Status  *int            `json:"status"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatch invokes req.Method on req.DeviceID and returns the device's reply
// uninterpreted. Connecting and the request share one deadline of the
// request timeout. Once issued, the call is not cancelled by ctx; it completes
// or times out. Failures are *model.TransportError. There is no retry.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.DispatchRequest) (model.DispatchResult, error) {
	if req.DeviceID == "" || req.Method == "" {
		return model.DispatchResult{}, d.fail(req, ReasonInvalidRequest, errors.New("device id and method are required"))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancel()

	r, err := d.requester(ctx)
	if err != nil {
		reason := ReasonConnect
		switch {
		case errors.Is(err, ErrClosed):
			reason = ReasonClosed
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonTimeout
		}
		return model.DispatchResult{}, d.fail(req, reason, err)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return model.DispatchResult{}, d.fail(req, ReasonTimeout, context.DeadlineExceeded)
	}

	msg := &messaging.Message{
		Subject: messaging.MethodSubject(d.cfg.SubjectPrefix, req.DeviceID, req.Method),
		Data:    req.Payload,
		Header: map[string]string{
			messaging.HeaderMethod:  req.Method,
			messaging.HeaderTimeout: timeoutSeconds(timeout),
		},
	}

	start := time.Now()
	resp, err := r.Request(ctx, msg, remaining)
	elapsed := time.Since(start)
	metrics.DispatchDuration.WithLabelValues(req.Method).Observe(elapsed.Seconds())
	if err != nil {
		return model.DispatchResult{}, d.fail(req, classify(err), err)
	}

	var rep reply
	if err := json.Unmarshal(resp.Data, &rep); err != nil {
		return model.DispatchResult{}, d.fail(req, ReasonInvalidReply, err)
	}
	if rep.Status == nil {
		return model.DispatchResult{}, d.fail(req, ReasonInvalidReply, errors.New("reply has no status"))
	}

	result := model.DispatchResult{Status: *rep.Status, Payload: rep.Payload, Duration: elapsed}
	metrics.DispatchTotal.WithLabelValues(req.Method, metrics.StatusClass(result.Status)).Inc()
	d.logger.InfoContext(ctx, "device method invoked",
		logging.DeviceID(req.DeviceID),
		logging.Method(req.Method),
		logging.Status(result.Status),
		logging.Duration(elapsed))
	return result, nil
}

// requester returns the shared handle, building it if no earlier call
// succeeded. It gives up when ctx ends.
func (d *Dispatcher) requester(ctx context.Context) (Requester, error) {
	if h := d.handle.Load(); h != nil {
		return h.r, nil
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.sem }()
	if h := d.handle.Load(); h != nil {
		return h.r, nil
	}
	if d.closed {
		return nil, ErrClosed
	}
	if d.connect == nil {
		return nil, errors.New("no connector configured")
	}

	r, err := d.connect(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to connect dispatcher", logging.Error(err))
		return nil, err
	}
	d.handle.Store(&handle{r: r})
	return r, nil
}

// Close releases the shared handle. Later dispatches fail.
func (d *Dispatcher) Close() error {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()
	d.closed = true
	h := d.handle.Swap(nil)
	if h == nil {
		return nil
	}
	return h.r.Close()
}

func (d *Dispatcher) fail(req model.DispatchRequest, reason string, err error) error {
	metrics.DispatchTotal.WithLabelValues(req.Method, "error").Inc()
	return &model.TransportError{DeviceID: req.DeviceID, Method: req.Method, Reason: reason, Err: err}
}

func classify(err error) string {
	switch {
	case errors.Is(err, messaging.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, messaging.ErrNoResponders):
		return ReasonNoResponders
	default:
		return ReasonRequest
	}
}

func timeoutSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(math.Ceil(d.Seconds())), 10)
}
