package runtime

import (
	"context"
	"sync"

	configpkg "github.com/drblury/widgetbus/internal/runtime/config"
	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
)

var (
	defaultMu      sync.Mutex
	defaultRuntime *Runtime
)

// Init builds the process-wide runtime and closes the one it replaces.
func Init(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Runtime, error) {
	rt, err := NewRuntime(ctx, conf, log, deps)
	if err != nil {
		return nil, err
	}

	defaultMu.Lock()
	prev := defaultRuntime
	defaultRuntime = rt
	defaultMu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			rt.Logger.Error("Failed to close previous runtime", err, nil)
		}
	}
	return rt, nil
}

// Default returns the runtime created by Init.
func Default() (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRuntime == nil {
		return nil, errspkg.ErrNotInitialized
	}
	return defaultRuntime, nil
}

// ResetForTests closes and forgets the process-wide runtime.
func ResetForTests() {
	defaultMu.Lock()
	prev := defaultRuntime
	defaultRuntime = nil
	defaultMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
}
