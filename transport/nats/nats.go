// Package nats provides a NATS Core transport. Topics ride on Watermill,
// services use native NATS request/reply.
package nats

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Header names carried on request/reply messages.
const (
	ErrorHeader       = "Widgetbus-Error"
	ContentTypeHeader = "Widgetbus-Content-Type"
	TypeHeader        = "Widgetbus-Type"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Conn is the part of a NATS connection used for request/reply.
type Conn interface {
	RequestMsgWithContext(ctx context.Context, msg *natsgo.Msg) (*natsgo.Msg, error)
	PublishMsg(msg *natsgo.Msg) error
	Subscribe(subject string, cb natsgo.MsgHandler) (transport.Subscription, error)
	Close()
}

// ConnFactory allows overriding the request/reply connection for testing.
var ConnFactory = func(url string) (Conn, error) {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return nil, err
	}
	return coreConn{nc}, nil
}

type coreConn struct {
	*natsgo.Conn
}

func (c coreConn) Subscribe(subject string, cb natsgo.MsgHandler) (transport.Subscription, error) {
	sub, err := c.Conn.Subscribe(subject, cb)
	if err != nil {
		return nil, err
	}
	return transport.SubscriptionFunc(sub.Unsubscribe), nil
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Client publishes and subscribes through Watermill and calls services with
// NATS request/reply.
type Client struct {
	*pubsub.Client
	conn Conn

	closeOnce sync.Once
}

// Build creates a new NATS client.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:       url,
			Marshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			Unmarshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	inner, err := pubsub.Wrap(transport.Transport{Publisher: publisher, Subscriber: subscriber}, cfg, logger, transport.NATSCapabilities)
	if err != nil {
		_ = publisher.Close()
		_ = subscriber.Close()
		return nil, err
	}

	conn, err := ConnFactory(url)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return &Client{Client: inner, conn: conn}, nil
}

// Call sends a NATS request on the service subject and waits for the reply.
func (c *Client) Call(ctx context.Context, service transport.Service, request any) (any, error) {
	codec := c.Codec()
	payload, err := codec.Marshal(request)
	if err != nil {
		return nil, err
	}
	req := natsgo.NewMsg(pubsub.DefaultServiceName(service))
	req.Data = payload
	req.Header.Set(ContentTypeHeader, codec.Name())
	if service.Type != "" {
		req.Header.Set(TypeHeader, service.Type)
	}

	resp, err := c.conn.RequestMsgWithContext(ctx, req)
	if err != nil {
		if errors.Is(err, natsgo.ErrTimeout) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	if remote := resp.Header.Get(ErrorHeader); remote != "" {
		return nil, &errspkg.RemoteError{Service: service.Name, Message: remote}
	}
	return decode(codec, resp)
}

// Serve answers NATS requests on the service subject.
func (c *Client) Serve(ctx context.Context, service transport.Service, fn transport.ServiceFunc) (transport.Subscription, error) {
	codec := c.Codec()
	return c.conn.Subscribe(pubsub.DefaultServiceName(service), func(m *natsgo.Msg) {
		if m.Reply == "" {
			return
		}
		reply := natsgo.NewMsg(m.Reply)
		reply.Header.Set(ContentTypeHeader, codec.Name())

		req, err := decode(codec, m)
		var resp any
		if err == nil {
			resp, err = fn(context.Background(), req)
		}
		if err == nil {
			reply.Data, err = codec.Marshal(resp)
		}
		if err != nil {
			reply.Data = nil
			reply.Header.Set(ErrorHeader, err.Error())
		}
		_ = c.conn.PublishMsg(reply)
	})
}

// Close closes the request/reply connection and the Watermill pair.
func (c *Client) Close() error {
	c.closeOnce.Do(c.conn.Close)
	return c.Client.Close()
}

func decode(codec pubsub.Codec, m *natsgo.Msg) (any, error) {
	if name := m.Header.Get(ContentTypeHeader); name != "" && name != codec.Name() {
		if alt, err := pubsub.CodecByName(name); err == nil {
			codec = alt
		}
	}
	return codec.Unmarshal(m.Data)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

var (
	_ transport.Client = (*Client)(nil)
	_ transport.Server = (*Client)(nil)
)
