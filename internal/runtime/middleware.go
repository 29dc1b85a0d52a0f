package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	idspkg "github.com/drblury/widgetbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/transport"
)

// ServeMiddleware wraps a service implementation answered through Runtime.Serve.
type ServeMiddleware func(svc transport.Service, next transport.ServiceFunc) transport.ServiceFunc

// MiddlewareBuilder constructs a middleware from the runtime it is served on.
type MiddlewareBuilder func(*Runtime) (ServeMiddleware, error)

// MiddlewareRegistration names a middleware for Runtime.Serve. Exactly one of
// Middleware or Builder is set.
type MiddlewareRegistration struct {
	Name       string
	Middleware ServeMiddleware
	Builder    MiddlewareBuilder
}

type correlationKey struct{}

// CorrelationID returns the id CorrelationIDMiddleware attached to ctx.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// DefaultMiddlewares returns the chain Serve uses when none is given. The
// first entry is the outermost.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		TracerMiddleware(),
		LogRequestsMiddleware(nil),
		TimeoutMiddleware(0),
		RecovererMiddleware(),
	}
}

// RecovererMiddleware turns a panicking implementation into an error reply.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Middleware: func(_ transport.Service, next transport.ServiceFunc) transport.ServiceFunc {
			return func(ctx context.Context, req any) (resp any, err error) {
				defer func() {
					if r := recover(); r != nil {
						resp = nil
						err = middleware.RecoveredPanicError{V: r, Stacktrace: string(debug.Stack())}
					}
				}()
				return next(ctx, req)
			}
		},
	}
}

// CorrelationIDMiddleware tags every request context with a fresh id.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(_ transport.Service, next transport.ServiceFunc) transport.ServiceFunc {
			return func(ctx context.Context, req any) (any, error) {
				if CorrelationID(ctx) == "" {
					ctx = context.WithValue(ctx, correlationKey{}, idspkg.CreateULID())
				}
				return next(ctx, req)
			}
		},
	}
}

// TracerMiddleware wraps each request in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(svc transport.Service, next transport.ServiceFunc) transport.ServiceFunc {
			tracer := otel.Tracer(tracerName)
			return func(ctx context.Context, req any) (any, error) {
				ctx, span := tracer.Start(ctx, "widgetbus.serve "+svc.Name, trace.WithAttributes(
					attribute.String("service.name", svc.Name),
					attribute.String("service.type", svc.Type),
					attribute.String("correlation_id", CorrelationID(ctx)),
				))
				defer span.End()
				resp, err := next(ctx, req)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				return resp, err
			}
		},
	}
}

// LogRequestsMiddleware logs every answered request. A nil logger uses the
// runtime logger.
func LogRequestsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_requests",
		Builder: func(rt *Runtime) (ServeMiddleware, error) {
			l := logger
			if l == nil {
				l = rt.Logger
			}
			if l == nil {
				return nil, errors.New("log requests middleware requires a logger")
			}
			return func(svc transport.Service, next transport.ServiceFunc) transport.ServiceFunc {
				return func(ctx context.Context, req any) (any, error) {
					started := time.Now()
					resp, err := next(ctx, req)
					fields := loggingpkg.LogFields{
						"service":        svc.Name,
						"type":           svc.Type,
						"correlation_id": CorrelationID(ctx),
						"duration":       time.Since(started),
					}
					if err != nil {
						l.Error("Service request failed", err, fields)
					} else {
						l.Debug("Service request handled", fields)
					}
					return resp, err
				}
			}, nil
		},
	}
}

// TimeoutMiddleware bounds each request context. Zero uses the configured
// service timeout.
func TimeoutMiddleware(timeout time.Duration) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "timeout",
		Builder: func(rt *Runtime) (ServeMiddleware, error) {
			d := timeout
			if d <= 0 {
				d = rt.Conf.EffectiveServiceTimeout()
			}
			return func(_ transport.Service, next transport.ServiceFunc) transport.ServiceFunc {
				return func(ctx context.Context, req any) (any, error) {
					ctx, cancel := context.WithTimeout(ctx, d)
					defer cancel()
					return next(ctx, req)
				}
			}, nil
		},
	}
}

func (rt *Runtime) buildMiddleware(cfg MiddlewareRegistration) (ServeMiddleware, error) {
	switch {
	case cfg.Middleware != nil:
		return cfg.Middleware, nil
	case cfg.Builder != nil:
		return cfg.Builder(rt)
	default:
		return nil, errors.New("middleware registration requires Middleware or Builder")
	}
}

// Serve answers svc with fn on transports that implement transport.Server.
// fn runs inside the given middleware chain, or DefaultMiddlewares when none
// is given.
func (rt *Runtime) Serve(ctx context.Context, svc transport.Service, fn transport.ServiceFunc, mws ...MiddlewareRegistration) (transport.Subscription, error) {
	if svc.Name == "" {
		return nil, errspkg.ErrServiceRequired
	}
	server, ok := rt.client.(transport.Server)
	if !ok {
		return nil, fmt.Errorf("transport %T cannot answer service calls", rt.client)
	}
	if len(mws) == 0 {
		mws = DefaultMiddlewares()
	}

	handler := fn
	for i := len(mws) - 1; i >= 0; i-- {
		mw, err := rt.buildMiddleware(mws[i])
		if err != nil {
			return nil, fmt.Errorf("middleware %s: %w", mws[i].Name, err)
		}
		if mw == nil {
			continue
		}
		handler = mw(svc, handler)
	}

	sub, err := server.Serve(ctx, svc, handler)
	if err != nil {
		return nil, err
	}
	rt.Logger.Info("Serving service", loggingpkg.LogFields{"service": svc.Name, "type": svc.Type})
	return sub, nil
}
