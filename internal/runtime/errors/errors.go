package errors

import (
	"context"
	sterrors "errors"
	"fmt"
	"time"
)

var (
	ErrClientRequired    = sterrors.New("widgetbus: transport client is required")
	ErrConfigRequired    = sterrors.New("widgetbus: configuration is required")
	ErrTopicRequired     = sterrors.New("widgetbus: topic is required")
	ErrServiceRequired   = sterrors.New("widgetbus: service is required")
	ErrNoServiceBound    = sterrors.New("widgetbus: no service bound")
	ErrTimeout           = sterrors.New("widgetbus: service timeout")
	ErrClosed            = sterrors.New("widgetbus: transport closed")
	ErrRemote            = sterrors.New("widgetbus: remote service failed")
	ErrNotInitialized    = sterrors.New("widgetbus: runtime not initialised")
	ErrUnknownTransport  = sterrors.New("widgetbus: unknown transport")
	ErrTopicTypeConflict = sterrors.New("widgetbus: topic already subscribed with another type")
)

// NoServiceBoundError is returned when a widget invokes a service slot that no
// binding has registered.
type NoServiceBoundError struct {
	Key string
}

func (e *NoServiceBoundError) Error() string {
	return "No service bound for " + e.Key
}

func (e *NoServiceBoundError) Is(target error) bool {
	return target == ErrNoServiceBound
}

// TimeoutError reports a service call that did not answer within its deadline.
type TimeoutError struct {
	Service string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Service timeout: %s (after %s)", e.Service, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// RemoteError carries a failure reported by the service implementation itself.
type RemoteError struct {
	Service string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("widgetbus: service %s failed", e.Service)
	}
	return fmt.Sprintf("widgetbus: service %s failed: %s", e.Service, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "widgetbus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
