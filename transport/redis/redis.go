// Package redis provides a Redis pub/sub transport. Messages travel as JSON
// envelopes on Redis channels. Services are answered over a per-client reply
// channel.
package redis

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	goredis "github.com/redis/go-redis/v9"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	"github.com/drblury/widgetbus/internal/runtime/ids"
	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

// ErrNoResponders is returned by Call when nothing listens on the service
// channel.
var ErrNoResponders = errors.New("redis: no responders for service")

// ClientFactory allows overriding the Redis client creation for testing.
var ClientFactory = func(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

// Envelope is the wire format of every message on a Redis channel.
type Envelope struct {
	ID          string `json:"id,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
	Type        string `json:"type,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
	Error       string `json:"error,omitempty"`
}

func init() {
	Register()
}

// Register registers the Redis transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Client implements transport.Client and transport.Server on Redis pub/sub.
type Client struct {
	rdb     *goredis.Client
	codec   pubsub.Codec
	logger  watermill.LoggerAdapter
	replyTo string

	replyMu sync.Mutex

	mu       sync.Mutex
	subs     map[int]*goredis.PubSub
	nextID   int
	pending  map[string]chan Envelope
	replying bool
	closed   bool
}

// Build creates a new Redis client and checks the connection with PING.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	codec, err := pubsub.CodecByName(cfg.GetCodec())
	if err != nil {
		return nil, err
	}
	rdb, err := ClientFactory(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		logger.Error("Failed to reach Redis", err, watermill.LogFields{"addr": rdb.Options().Addr})
		return nil, err
	}
	return New(rdb, codec, logger), nil
}

// New wraps an existing Redis client.
func New(rdb *goredis.Client, codec pubsub.Codec, logger watermill.LoggerAdapter) *Client {
	if codec == nil {
		codec = pubsub.JSONCodec{}
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Client{
		rdb:     rdb,
		codec:   codec,
		logger:  logger,
		replyTo: "srv.reply." + strings.ToLower(ids.CreateULID()),
		subs:    make(map[int]*goredis.PubSub),
		pending: make(map[string]chan Envelope),
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

func (c *Client) Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

func (c *Client) Subscribe(ctx context.Context, topic transport.Topic, handler transport.Handler) (transport.Subscription, error) {
	channel := pubsub.DefaultTopicName(topic)
	return c.listen(ctx, channel, func(env Envelope) {
		if env.Type != "" && topic.Type != "" && env.Type != topic.Type {
			c.logger.Debug("Dropping message with mismatched type", watermill.LogFields{
				"channel":       channel,
				"expected_type": topic.Type,
				"wire_type":     env.Type,
			})
			return
		}
		value, err := c.decode(env)
		if err != nil {
			c.logger.Error("Failed to decode message", err, watermill.LogFields{"channel": channel})
			return
		}
		handler(value)
	})
}

// Advertise is a no-op: Redis channels exist as soon as someone publishes.
func (c *Client) Advertise(ctx context.Context, topic transport.Topic) error {
	return c.checkOpen()
}

func (c *Client) Unadvertise(ctx context.Context, topic transport.Topic) error {
	return nil
}

func (c *Client) Publish(ctx context.Context, topic transport.Topic, msg any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	env, err := c.envelope(msg)
	if err != nil {
		return err
	}
	env.Type = topic.Type
	_, err = c.send(ctx, pubsub.DefaultTopicName(topic), env)
	return err
}

func (c *Client) Call(ctx context.Context, service transport.Service, request any) (any, error) {
	if err := c.ensureReplies(ctx); err != nil {
		return nil, err
	}
	env, err := c.envelope(request)
	if err != nil {
		return nil, err
	}
	env.ID = ids.CreateULID()
	env.ReplyTo = c.replyTo
	env.Type = service.Type

	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[env.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	receivers, err := c.send(ctx, pubsub.DefaultServiceName(service), env)
	if err != nil {
		return nil, err
	}
	if receivers == 0 {
		return nil, ErrNoResponders
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return nil, &errspkg.RemoteError{Service: service.Name, Message: reply.Error}
		}
		return c.decode(reply)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve answers requests published on the service channel.
func (c *Client) Serve(ctx context.Context, service transport.Service, fn transport.ServiceFunc) (transport.Subscription, error) {
	channel := pubsub.DefaultServiceName(service)
	return c.listen(ctx, channel, func(req Envelope) {
		if req.ReplyTo == "" || req.ID == "" {
			return
		}
		value, err := c.decode(req)
		var resp any
		if err == nil {
			resp, err = fn(context.Background(), value)
		}
		reply := Envelope{}
		if err == nil {
			reply, err = c.envelope(resp)
		}
		if err != nil {
			reply = Envelope{Error: err.Error()}
		}
		reply.ID = req.ID
		reply.Type = service.Type
		if _, err := c.send(context.Background(), req.ReplyTo, reply); err != nil {
			c.logger.Error("Failed to publish service response", err, watermill.LogFields{"service": channel, "reply_to": req.ReplyTo})
		}
	})
}

// Close closes every Redis subscription and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = map[int]*goredis.PubSub{}
	c.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		errs = append(errs, ps.Close())
	}
	errs = append(errs, c.rdb.Close())
	return errors.Join(errs...)
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errspkg.ErrClosed
	}
	return nil
}

func (c *Client) listen(ctx context.Context, channel string, fn func(Envelope)) (transport.Subscription, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ps := c.rdb.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so publishes that follow are seen.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ps.Close()
		return nil, errspkg.ErrClosed
	}
	c.nextID++
	id := c.nextID
	c.subs[id] = ps
	c.mu.Unlock()

	go func() {
		for m := range ps.Channel() {
			var env Envelope
			if err := jsoncodec.Unmarshal([]byte(m.Payload), &env); err != nil {
				c.logger.Error("Failed to decode envelope", err, watermill.LogFields{"channel": channel})
				continue
			}
			fn(env)
		}
	}()

	var once sync.Once
	return transport.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			err = ps.Close()
		})
		return err
	}), nil
}

func (c *Client) ensureReplies(ctx context.Context) error {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	c.mu.Lock()
	replying := c.replying
	c.mu.Unlock()
	if replying {
		return nil
	}
	if _, err := c.listen(ctx, c.replyTo, c.handleReply); err != nil {
		return err
	}
	c.mu.Lock()
	c.replying = true
	c.mu.Unlock()
	return nil
}

func (c *Client) handleReply(env Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- env:
	default:
	}
}

func (c *Client) envelope(v any) (Envelope, error) {
	payload, err := c.codec.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ContentType: c.codec.Name(), Payload: payload}, nil
}

func (c *Client) send(ctx context.Context, channel string, env Envelope) (int64, error) {
	data, err := jsoncodec.Marshal(env)
	if err != nil {
		return 0, err
	}
	return c.rdb.Publish(ctx, channel, data).Result()
}

func (c *Client) decode(env Envelope) (any, error) {
	codec := c.codec
	if env.ContentType != "" && env.ContentType != codec.Name() {
		if alt, err := pubsub.CodecByName(env.ContentType); err == nil {
			codec = alt
		}
	}
	return codec.Unmarshal(env.Payload)
}

var (
	_ transport.Client               = (*Client)(nil)
	_ transport.Server               = (*Client)(nil)
	_ transport.CapabilitiesProvider = (*Client)(nil)
)
