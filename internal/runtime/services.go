package runtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/widgetbus/internal/runtime/config"
	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/transport"
)

const tracerName = "widgetbus"

// CallOptions tunes a single service call.
type CallOptions struct {
	// Timeout bounds the call. Zero uses the registry default.
	Timeout time.Duration
	// BindingKey names the widget slot that issued the call, if any.
	BindingKey string
}

// SharedServiceRegistry hands out one handle per service key and performs
// calls through it with a deadline.
type SharedServiceRegistry struct {
	client         transport.Client
	logger         loggingpkg.ServiceLogger
	metrics        *Metrics
	hooks          CallHooks
	tracer         trace.Tracer
	defaultTimeout time.Duration

	mu      sync.Mutex
	handles map[string]*serviceHandle
}

type serviceHandle struct {
	service transport.Service

	mu          sync.Mutex
	calls       uint64
	failures    uint64
	timeouts    uint64
	lastLatency time.Duration
	lastError   string
}

// ServiceStats is a point-in-time view of one service handle.
type ServiceStats struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Calls       uint64        `json:"calls"`
	Failures    uint64        `json:"failures"`
	Timeouts    uint64        `json:"timeouts"`
	LastLatency time.Duration `json:"lastLatency"`
	LastError   string        `json:"lastError,omitempty"`
}

// NewSharedServiceRegistry returns a registry calling services over client. A
// non-positive defaultTimeout means config.DefaultServiceTimeout.
func NewSharedServiceRegistry(client transport.Client, logger loggingpkg.ServiceLogger, metrics *Metrics, hooks CallHooks, defaultTimeout time.Duration) *SharedServiceRegistry {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = config.DefaultServiceTimeout
	}
	return &SharedServiceRegistry{
		client:         client,
		logger:         logger,
		metrics:        metrics,
		hooks:          hooks,
		tracer:         otel.Tracer(tracerName),
		defaultTimeout: defaultTimeout,
		handles:        make(map[string]*serviceHandle),
	}
}

func (r *SharedServiceRegistry) handle(svc transport.Service) *serviceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[svc.Key()]
	if !ok {
		h = &serviceHandle{service: svc}
		r.handles[svc.Key()] = h
	}
	return h
}

type callResult struct {
	resp any
	err  error
}

// Call invokes svc with req and waits for the response, the deadline or ctx
// cancellation, whichever comes first. A missed deadline returns a
// *errors.TimeoutError; a late response is discarded.
func (r *SharedServiceRegistry) Call(ctx context.Context, svc transport.Service, req any, opts CallOptions) (any, error) {
	if svc.Name == "" {
		return nil, errspkg.ErrServiceRequired
	}
	h := r.handle(svc)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callCtx, span := r.tracer.Start(callCtx, "widgetbus.call "+svc.Name, trace.WithAttributes(
		attribute.String("service.name", svc.Name),
		attribute.String("service.type", svc.Type),
		attribute.String("binding.key", opts.BindingKey),
	))
	defer span.End()

	cc := CallContext{
		Service:    svc,
		BindingKey: opts.BindingKey,
		Request:    req,
		Timeout:    timeout,
		StartedAt:  time.Now(),
	}
	if r.hooks.OnCallStart != nil {
		r.hooks.OnCallStart(cc)
	}

	done := make(chan callResult, 1)
	go func() {
		resp, err := r.client.Call(callCtx, svc, req)
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	if errors.Is(res.err, context.DeadlineExceeded) {
		res.err = &errspkg.TimeoutError{Service: svc.Name, Timeout: timeout}
	}

	cc.Duration = time.Since(cc.StartedAt)
	outcome := outcomeOK
	if res.err != nil {
		outcome = outcomeError
		if errors.Is(res.err, errspkg.ErrTimeout) {
			outcome = outcomeTimeout
		}
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	h.record(cc.Duration, outcome, res.err)
	r.metrics.serviceCall(svc.Name, outcome, cc.Duration)

	if res.err != nil {
		if r.hooks.OnCallError != nil {
			r.hooks.OnCallError(cc, res.err)
		}
		return nil, res.err
	}
	if r.hooks.OnCallDone != nil {
		r.hooks.OnCallDone(cc)
	}
	return res.resp, nil
}

func (h *serviceHandle) record(d time.Duration, outcome string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.lastLatency = d
	switch outcome {
	case outcomeTimeout:
		h.timeouts++
		h.failures++
	case outcomeError:
		h.failures++
	}
	if err != nil {
		h.lastError = err.Error()
	} else {
		h.lastError = ""
	}
}

// Stats lists every handle sorted by service key.
func (r *SharedServiceRegistry) Stats() []ServiceStats {
	r.mu.Lock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	handles := make([]*serviceHandle, 0, len(keys))
	for _, k := range keys {
		handles = append(handles, r.handles[k])
	}
	r.mu.Unlock()

	out := make([]ServiceStats, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out = append(out, ServiceStats{
			Name:        h.service.Name,
			Type:        h.service.Type,
			Calls:       h.calls,
			Failures:    h.failures,
			Timeouts:    h.timeouts,
			LastLatency: h.lastLatency,
			LastError:   h.lastError,
		})
		h.mu.Unlock()
	}
	return out
}
