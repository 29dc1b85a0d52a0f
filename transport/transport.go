// Package transport defines the bus client contract the binding layer talks to
// and the registry that maps a configured transport name to its builder. Each
// broker lives in its own sub-package and registers itself from init().
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Topic is a named, typed publish/subscribe channel.
type Topic struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Key is the identity used to deduplicate subscriptions: "name|type".
func (t Topic) Key() string { return t.Name + "|" + t.Type }

// Service is a named, typed request/response procedure.
type Service struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Key is the identity used to deduplicate service clients: "name|type".
func (s Service) Key() string { return s.Name + "|" + s.Type }

// Handler receives one decoded message. It may be invoked from a transport
// goroutine.
type Handler func(msg any)

// ServiceFunc answers one decoded service request.
type ServiceFunc func(ctx context.Context, request any) (any, error)

// Subscription is returned by Subscribe and Serve.
type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }

// Client is the wire-level bus connection. Implementations must be safe for
// concurrent use.
type Client interface {
	Subscribe(ctx context.Context, topic Topic, handler Handler) (Subscription, error)
	Advertise(ctx context.Context, topic Topic) error
	Publish(ctx context.Context, topic Topic, msg any) error
	Unadvertise(ctx context.Context, topic Topic) error
	// Call blocks until the response arrives or ctx is done.
	Call(ctx context.Context, service Service, request any) (any, error)
	Close() error
}

// Server is implemented by clients that can also answer service calls. It is
// used by the CLI mock service and by tests.
type Server interface {
	Serve(ctx context.Context, service Service, fn ServiceFunc) (Subscription, error)
}

// URLSwitcher is implemented by clients that can be repointed at a different
// endpoint without rebuilding the runtime.
type URLSwitcher interface {
	SetURL(ctx context.Context, url string) error
	URL() string
}

// Transport is the Watermill publisher and subscriber pair that the
// Watermill-backed builders produce before wrapping it into a Client.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a Client from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Client, error)

// Config provides the configuration values needed by transports without
// depending on the full config package.
type Config interface {
	GetTransport() string
	GetCodec() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// Redis
	GetRedisURL() string

	// rosbridge
	GetRosbridgeURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by clients that report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
