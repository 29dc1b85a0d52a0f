package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/widgetbus/internal/runtime/config"
	bus "github.com/drblury/widgetbus/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/widgetbus/transport/transports"
)

// DefaultTransport is used when the config leaves Transport empty.
const DefaultTransport = "channel"

// Factory abstracts how the runtime obtains its bus client.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Client, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Client, error) {
	return f(ctx, conf, logger)
}

// Static returns a Factory that always hands out client. Useful in tests and
// when the caller already owns a connection.
func Static(client bus.Client) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (bus.Client, error) {
		return client, nil
	})
}

// DefaultFactory returns the built-in transport factory that uses the
// modular transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}
	normalized := *conf
	normalized.Transport = Normalize(conf.Transport)
	return bus.Build(ctx, &normalized, logger)
}

// Normalize lower-cases name and maps aliases onto registered names.
func Normalize(name string) string {
	switch name = strings.ToLower(strings.TrimSpace(name)); name {
	case "", "gochannel", "memory":
		return DefaultTransport
	case "ros", "rosbridge_websocket":
		return "rosbridge"
	case "amqp":
		return "rabbitmq"
	case "sns", "sqs":
		return "aws"
	default:
		return name
	}
}
