// Package kafka provides a Kafka transport. Topics map onto Kafka topics and
// service calls are emulated through a per-process reply topic.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// ClientID identifies widgetbus connections in broker logs.
const ClientID = "widgetbus"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka client. Leave the consumer group empty so every
// process receives every message on a topic. Subscriptions start at the
// newest offset: a dashboard shows live values and never replays history.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	brokers := cfg.GetKafkaBrokers()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: subscriberSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return pubsub.Wrap(transport.Transport{Publisher: publisher, Subscriber: subscriber}, cfg, logger, transport.KafkaCapabilities)
}

func publisherSaramaConfig() *sarama.Config {
	c := kafka.DefaultSaramaSyncPublisherConfig()
	c.ClientID = ClientID
	return c
}

func subscriberSaramaConfig() *sarama.Config {
	c := kafka.DefaultSaramaSubscriberConfig()
	c.ClientID = ClientID
	c.Consumer.Offsets.Initial = sarama.OffsetNewest
	return c
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
