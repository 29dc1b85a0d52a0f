package widgetbus

import (
	"context"

	runtimepkg "github.com/drblury/widgetbus/internal/runtime"
	configpkg "github.com/drblury/widgetbus/internal/runtime/config"
	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	idspkg "github.com/drblury/widgetbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/widgetbus/internal/runtime/jsoncodec"
	"github.com/drblury/widgetbus/internal/runtime/layout"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/internal/runtime/pathutil"
	"github.com/drblury/widgetbus/internal/runtime/rclparams"
	"github.com/drblury/widgetbus/internal/runtime/scan"
	transportpkg "github.com/drblury/widgetbus/internal/runtime/transport"
	newtransport "github.com/drblury/widgetbus/transport"
)

type (
	Config       = configpkg.Config
	Runtime      = runtimepkg.Runtime
	Dependencies = runtimepkg.Dependencies
	Attachment   = runtimepkg.Attachment
	Scheduler    = runtimepkg.Scheduler

	// Registries and buses
	SharedTopicRegistry   = runtimepkg.SharedTopicRegistry
	SharedServiceRegistry = runtimepkg.SharedServiceRegistry
	TopicPublisher        = runtimepkg.TopicPublisher
	TopicStats            = runtimepkg.TopicStats
	ServiceStats          = runtimepkg.ServiceStats
	CallOptions           = runtimepkg.CallOptions
	ServiceBus            = runtimepkg.ServiceBus
	PublisherBus          = runtimepkg.PublisherBus
	Invoker               = runtimepkg.Invoker
	PublishFunc           = runtimepkg.PublishFunc
	InstanceStore[T any]  = runtimepkg.InstanceStore[T]
	Metrics               = runtimepkg.Metrics

	// Service call lifecycle
	CallContext = runtimepkg.CallContext
	CallHooks   = runtimepkg.CallHooks
	CallTracker = runtimepkg.CallTracker
	CallState   = runtimepkg.CallState

	// Serve middleware
	ServeMiddleware        = runtimepkg.ServeMiddleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Layout and bindings
	Layout            = layout.Entity
	LayoutWidget      = layout.Widget
	LayoutValue       = layout.Value
	BindingKind       = scan.Kind
	BindingSet        = scan.Set
	SubscriberBinding = scan.SubscriberBinding
	PublisherBinding  = scan.PublisherBinding
	ServiceBinding    = scan.ServiceBinding
	ConstantBinding   = scan.ConstantBinding
	RawEntry          = scan.RawEntry
	WidgetRef         = scan.WidgetRef

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	NoServiceBoundError   = errspkg.NoServiceBoundError
	TimeoutError          = errspkg.TimeoutError
	RemoteError           = errspkg.RemoteError
	ConfigValidationError = errspkg.ConfigValidationError

	TransportFactory = transportpkg.Factory

	// Modular transport types
	Topic                 = newtransport.Topic
	Service               = newtransport.Service
	Client                = newtransport.Client
	Server                = newtransport.Server
	Subscription          = newtransport.Subscription
	Handler               = newtransport.Handler
	ServiceFunc           = newtransport.ServiceFunc
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities

	// ROS 2 parameter services
	Parameter             = rclparams.Parameter
	ParameterValue        = rclparams.ParameterValue
	GetParametersRequest  = rclparams.GetParametersRequest
	GetParametersResponse = rclparams.GetParametersResponse
	SetParametersRequest  = rclparams.SetParametersRequest
	SetParametersResponse = rclparams.SetParametersResponse
)

var (
	NewRuntime     = runtimepkg.NewRuntime
	Init           = runtimepkg.Init
	Default        = runtimepkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewServiceBus   = runtimepkg.NewServiceBus
	NewPublisherBus = runtimepkg.NewPublisherBus
	NewMetrics      = runtimepkg.NewMetrics

	// Service call hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// Serve middleware
	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	LogRequestsMiddleware   = runtimepkg.LogRequestsMiddleware
	TimeoutMiddleware       = runtimepkg.TimeoutMiddleware
	CorrelationID           = runtimepkg.CorrelationID

	// Layout loading and scanning
	LoadLayout         = layout.Load
	LoadLayoutFile     = layout.LoadFile
	LoadLayoutTree     = layout.LoadTree
	LoadLayoutTreeFile = layout.LoadTreeFile
	ScanBindings       = scan.All
	Subscribers        = scan.Subscribers
	Publishers         = scan.Publishers
	Services           = scan.Services
	Constants          = scan.Constants
	Widgets            = scan.Widgets
	AttrKey            = scan.AttrKey

	// Path resolution
	GetPath = pathutil.Get
	SetPath = pathutil.Set

	// Modular transport registry
	// Import individual transports via: _ "github.com/drblury/widgetbus/transport/rosbridge"
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities
	StaticTransport          = transportpkg.Static

	// ROS 2 parameter helpers
	GetParameters     = rclparams.Get
	SetParameters     = rclparams.Set
	BoolParameter     = rclparams.Bool
	IntegerParameter  = rclparams.Integer
	DoubleParameter   = rclparams.Double
	StringParameter   = rclparams.String
	BoolArrayParam    = rclparams.BoolArray
	IntegerArrayParam = rclparams.IntegerArray
	DoubleArrayParam  = rclparams.DoubleArray
	StringArrayParam  = rclparams.StringArray

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrClientRequired   = errspkg.ErrClientRequired
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrTopicRequired    = errspkg.ErrTopicRequired
	ErrServiceRequired  = errspkg.ErrServiceRequired
	ErrNoServiceBound   = errspkg.ErrNoServiceBound
	ErrTimeout          = errspkg.ErrTimeout
	ErrClosed           = errspkg.ErrClosed
	ErrRemote           = errspkg.ErrRemote
	ErrNotInitialized    = errspkg.ErrNotInitialized
	ErrUnknownTransport  = errspkg.ErrUnknownTransport
	ErrTopicTypeConflict = errspkg.ErrTopicTypeConflict

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewLogger            = loggingpkg.New
	NopLogger            = loggingpkg.NopLogger

	CreateULID = idspkg.CreateULID
)

// Binding kinds accepted in a widget config "type" member.
const (
	KindSubscriber = scan.KindSubscriber
	KindPublisher  = scan.KindPublisher
	KindService    = scan.KindService
	KindConstant   = scan.KindConstant

	DefaultServiceTimeout = configpkg.DefaultServiceTimeout
)

// NewInstanceStore returns an empty store. A nil scheduler replays late
// joiners on a new goroutine.
func NewInstanceStore[T any](schedule Scheduler) *InstanceStore[T] {
	return runtimepkg.NewInstanceStore[T](schedule)
}

// MountFile loads the layout at path and mounts it on rt, replacing the
// previously mounted layout. Malformed entries are skipped, not rejected.
func MountFile(ctx context.Context, rt *Runtime, path string) (*Attachment, error) {
	tree, err := layout.LoadTreeFile(path)
	if err != nil {
		return nil, err
	}
	return rt.Mount(ctx, tree), nil
}
