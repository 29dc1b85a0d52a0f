// Package rabbitmq provides a RabbitMQ/AMQP transport. Each process binds its
// own non-durable queue to every topic exchange so all processes see all
// messages.
package rabbitmq

import (
	"context"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/widgetbus/internal/runtime/ids"
	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// Test seams.
var (
	ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	CloseConnection = func(conn *amqp.ConnectionWrapper) error {
		return conn.Close()
	}
	PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

// QueueSuffix distinguishes this process's queues. Defaults to a ULID.
var QueueSuffix = func() string {
	return strings.ToLower(ids.CreateULID())
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// Build connects to cfg.GetRabbitMQURL(). The publisher and subscriber share
// one connection, which is closed again if either fails to start.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	uri := cfg.GetRabbitMQURL()
	suffix := QueueSuffix()
	amqpConfig := amqp.NewNonDurablePubSubConfig(uri, amqp.GenerateQueueNameTopicNameWithSuffix(suffix))

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   uri,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, err
	}

	var closers []func() error
	fail := func(err error) (transport.Client, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			err = errors.Join(err, closers[i]())
		}
		return nil, errors.Join(err, CloseConnection(conn))
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, publisher.Close)

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, subscriber.Close)

	client, err := pubsub.Wrap(
		transport.Transport{Publisher: publisher, Subscriber: subscriber},
		cfg,
		logger,
		transport.RabbitMQCapabilities,
		func(o *pubsub.Options) { o.ReplyTopic = "srv.reply." + suffix },
	)
	if err != nil {
		return fail(err)
	}
	logger.Info("Connected RabbitMQ transport", watermill.LogFields{"queue_suffix": suffix, "reply_exchange": client.ReplyTopic()})
	return client, nil
}
