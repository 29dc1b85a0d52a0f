package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/widgetbus/internal/runtime/config"
	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/internal/runtime/scan"
	transportpkg "github.com/drblury/widgetbus/internal/runtime/transport"
	"github.com/drblury/widgetbus/transport"
)

// Dependencies holds the optional collaborators of a Runtime. Leave fields
// nil to get the defaults.
type Dependencies struct {
	// Client is used as is and is not closed by Runtime.Close.
	Client transport.Client
	// TransportFactory builds the client when Client is nil.
	TransportFactory transportpkg.Factory
	Hooks            CallHooks
	// Registerer receives the runtime metrics. Setting it enables metrics
	// even when the config does not.
	Registerer prometheus.Registerer
	// Gatherer backs the /metrics endpoint.
	Gatherer prometheus.Gatherer
	// Scheduler runs late-join replays. Defaults to a new goroutine.
	Scheduler Scheduler
}

// Runtime wires layout bindings onto a transport client.
type Runtime struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	client     transport.Client
	ownsClient bool

	topics       *SharedTopicRegistry
	services     *SharedServiceRegistry
	store        *InstanceStore[any]
	serviceBus   *ServiceBus
	publisherBus *PublisherBus
	metrics      *Metrics
	gatherer     prometheus.Gatherer

	mountMu sync.Mutex
	mounted *Attachment

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewRuntime connects the configured transport and returns an empty runtime.
// Attach a layout with AttachAll or Mount.
func NewRuntime(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Runtime, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		log = loggingpkg.NopLogger()
	}
	log.Info("Creating widget runtime", loggingpkg.LogFields{
		"transport": conf.Transport,
		"config":    conf,
	})

	rt := &Runtime{
		Conf:         conf,
		Logger:       log,
		serviceBus:   NewServiceBus(),
		publisherBus: NewPublisherBus(),
		store:        NewInstanceStore[any](deps.Scheduler),
	}

	if conf.MetricsEnabled || deps.Registerer != nil {
		reg := deps.Registerer
		if reg == nil {
			registry := prometheus.NewRegistry()
			reg, rt.gatherer = registry, registry
		}
		rt.metrics = NewMetrics(reg)
		if err := rt.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if deps.Gatherer != nil {
			rt.gatherer = deps.Gatherer
		}
		if rt.gatherer == nil {
			if g, ok := reg.(prometheus.Gatherer); ok {
				rt.gatherer = g
			} else {
				rt.gatherer = prometheus.DefaultGatherer
			}
		}
		rt.store.onEmit = rt.metrics.valueEmitted
	}

	client := deps.Client
	if client == nil {
		factory := deps.TransportFactory
		if factory == nil {
			factory = transportpkg.DefaultFactory()
		}
		built, err := factory.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, fmt.Errorf("build transport: %w", err)
		}
		if built == nil {
			return nil, errspkg.ErrClientRequired
		}
		client, rt.ownsClient = built, true
	}
	rt.client = client

	rt.topics = NewSharedTopicRegistry(client, log, rt.metrics)
	rt.services = NewSharedServiceRegistry(client, log, rt.metrics, deps.Hooks, conf.EffectiveServiceTimeout())
	return rt, nil
}

// ReadAttribute registers fn for the values of one widget attribute. A value
// emitted before the call is replayed once. The returned function
// unregisters fn.
func (rt *Runtime) ReadAttribute(instanceID, attrName string, fn func(any)) func() {
	return rt.store.On(instanceID, attrName, fn)
}

// InvokeService calls the service bound to the widget attribute.
func (rt *Runtime) InvokeService(ctx context.Context, instanceID, attrName string, req any, opts CallOptions) (any, error) {
	return rt.serviceBus.Call(ctx, scan.AttrKey(instanceID, attrName), req, opts)
}

// Publish sends value through the publisher bound to the widget attribute.
// Unbound attributes are ignored.
func (rt *Runtime) Publish(ctx context.Context, instanceID, attrName string, value any) {
	if fn, ok := rt.publisherBus.Get(scan.AttrKey(instanceID, attrName)); ok {
		fn(ctx, value)
	}
}

// SetURL repoints the transport when it supports switching endpoints.
func (rt *Runtime) SetURL(ctx context.Context, url string) error {
	sw, ok := rt.client.(transport.URLSwitcher)
	if !ok {
		return fmt.Errorf("transport %T cannot switch url", rt.client)
	}
	rt.Logger.Info("Switching transport url", loggingpkg.LogFields{"url": url})
	return sw.SetURL(ctx, url)
}

func (rt *Runtime) Client() transport.Client { return rt.client }
func (rt *Runtime) Topics() *SharedTopicRegistry { return rt.topics }
func (rt *Runtime) Services() *SharedServiceRegistry { return rt.services }
func (rt *Runtime) Store() *InstanceStore[any] { return rt.store }
func (rt *Runtime) ServiceBus() *ServiceBus { return rt.serviceBus }
func (rt *Runtime) PublisherBus() *PublisherBus { return rt.publisherBus }
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// Start serves the HTTP endpoints enabled in the config and blocks until ctx
// is cancelled.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.StartIntrospectionServer()
	rt.StartMetricsServer()
	rt.startHTTPServers()
	<-ctx.Done()
	rt.stopHTTPServers()
	return nil
}

// Close detaches the mounted layout, stops HTTP servers and closes the
// transport client when the runtime built it.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		rt.Unmount()
		rt.stopHTTPServers()
		if rt.ownsClient {
			rt.closeErr = rt.client.Close()
		}
	})
	return rt.closeErr
}
