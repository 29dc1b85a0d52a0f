// Package http provides an HTTP transport. Every topic becomes a POST route
// on the local subscriber server and a URL below the publisher base URL.
package http

import (
	"context"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/widgetbus/internal/runtime/ids"
	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// TopicRoute turns "/robot/speed" into the route "/robot.speed".
func TopicRoute(t transport.Topic) string {
	return "/" + pubsub.DefaultTopicName(t)
}

// ServiceRoute turns "/robot/reset" into the route "/srv.robot.reset".
func ServiceRoute(s transport.Service) string {
	return "/" + pubsub.DefaultServiceName(s)
}

// Build creates a new HTTP client.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := strings.TrimSuffix(cfg.GetHTTPPublisherURL(), "/")

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
			},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	client, err := pubsub.Wrap(
		transport.Transport{Publisher: publisher, Subscriber: subscriber},
		cfg,
		logger,
		transport.HTTPCapabilities,
		func(o *pubsub.Options) {
			o.TopicName = TopicRoute
			o.ServiceName = ServiceRoute
			o.ReplyTopic = "/srv.reply." + strings.ToLower(ids.CreateULID())
		},
	)
	if err != nil {
		_ = publisher.Close()
		_ = subscriber.Close()
		return nil, err
	}

	go func() {
		if s, ok := subscriber.(*http.Subscriber); ok {
			if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
				logger.Error("Failed to start HTTP subscriber server", err, nil)
			}
		}
	}()

	return client, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
