package runtime

import (
	"time"

	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/transport"
)

// CallContext describes one service call to hooks.
type CallContext struct {
	// Service is the called service.
	Service transport.Service
	// BindingKey is the widget slot that issued the call, empty for direct calls.
	BindingKey string
	// Request is the request payload.
	Request any
	// Timeout is the deadline applied to the call.
	Timeout time.Duration
	// StartedAt is when the call was issued.
	StartedAt time.Time
	// Duration is how long the call took (only set in OnCallDone and OnCallError).
	Duration time.Duration
}

// CallHooks defines callbacks around service calls.
// All hooks are optional - nil hooks are simply not called.
type CallHooks struct {
	// OnCallStart is called before the request is handed to the transport.
	OnCallStart func(ctx CallContext)

	// OnCallDone is called when the service answered in time.
	OnCallDone func(ctx CallContext)

	// OnCallError is called when the call failed or timed out.
	OnCallError func(ctx CallContext, err error)
}

// Merge combines two CallHooks, creating a new CallHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCallStart: chainHooks(h.OnCallStart, other.OnCallStart),
		OnCallDone:  chainHooks(h.OnCallDone, other.OnCallDone),
		OnCallError: chainErrorHooks(h.OnCallError, other.OnCallError),
	}
}

func chainHooks(a, b func(CallContext)) func(CallContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(CallContext, error)) func(CallContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log service calls.
func LoggingHooks(logger loggingpkg.ServiceLogger) CallHooks {
	return CallHooks{
		OnCallStart: func(ctx CallContext) {
			logger.Debug("Service call started", loggingpkg.LogFields{
				"service":    ctx.Service.Name,
				"type":       ctx.Service.Type,
				"binding":    ctx.BindingKey,
				"timeout_ms": ctx.Timeout.Milliseconds(),
			})
		},
		OnCallDone: func(ctx CallContext) {
			logger.Debug("Service call completed", loggingpkg.LogFields{
				"service":     ctx.Service.Name,
				"binding":     ctx.BindingKey,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnCallError: func(ctx CallContext, err error) {
			logger.Error("Service call failed", err, loggingpkg.LogFields{
				"service":     ctx.Service.Name,
				"binding":     ctx.BindingKey,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on failed calls.
func AlertingHooks(alertFunc func(ctx CallContext, err error)) CallHooks {
	return CallHooks{
		OnCallError: alertFunc,
	}
}
