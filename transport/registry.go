package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
)

// Registry maps transport names, as used in Config.Transport, to the
// builder and capabilities of each bus backend.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

type registration struct {
	build Builder
	caps  Capabilities
}

// DefaultRegistry is the registry the transport subpackages add themselves to.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds builder under name with capabilities that only carry the name.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: name})
}

// RegisterWithCapabilities adds builder under name. A later registration of
// the same name replaces the earlier one.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	r.entries[name] = registration{build: builder, caps: caps}
	r.mu.Unlock()
}

func (r *Registry) lookup(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// GetCapabilities returns the capabilities for a registered transport, or a
// zero value carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if reg, ok := r.lookup(name); ok {
		return reg.caps
	}
	return Capabilities{Name: name}
}

// Build connects the transport named by cfg.GetTransport().
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetTransport()
	reg, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownTransport, name, r.Names())
	}
	logger.Debug("Building transport", watermill.LogFields{
		"transport":    name,
		"native_rpc":   reg.caps.SupportsNativeRPC,
		"advertise":    reg.caps.SupportsAdvertise,
		"typed_topics": reg.caps.SupportsTypedTopics,
	})
	return reg.build(ctx, cfg, logger)
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Register adds a transport builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a client using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Client, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
