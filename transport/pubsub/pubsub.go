// Package pubsub adapts a Watermill publisher and subscriber pair to
// transport.Client. Service calls are emulated with a per-client reply topic
// and correlation ids carried in message metadata.
package pubsub

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	"github.com/drblury/widgetbus/internal/runtime/ids"
	"github.com/drblury/widgetbus/internal/runtime/metadata"
	"github.com/drblury/widgetbus/transport"
)

// Options tunes how topics and services map onto broker topic names.
type Options struct {
	Codec        Codec
	TopicName    func(transport.Topic) string
	ServiceName  func(transport.Service) string
	ReplyTopic   string
	Logger       watermill.LoggerAdapter
	Capabilities transport.Capabilities
}

// DefaultTopicName turns "/robot/speed" into "robot.speed".
func DefaultTopicName(t transport.Topic) string {
	return sanitize(t.Name)
}

// DefaultServiceName turns "/robot/reset" into "srv.robot.reset".
func DefaultServiceName(s transport.Service) string {
	return "srv." + sanitize(s.Name)
}

func sanitize(name string) string {
	name = strings.Trim(name, "/")
	if name == "" {
		return "root"
	}
	return strings.ReplaceAll(name, "/", ".")
}

type pendingCall struct {
	service string
	ch      chan callResult
}

type callResult struct {
	value any
	err   error
}

// Client implements transport.Client and transport.Server on top of Watermill.
type Client struct {
	pub  message.Publisher
	sub  message.Subscriber
	opts Options

	mu       sync.Mutex
	pending  map[string]pendingCall
	replying bool
	cancels  map[int]context.CancelFunc
	nextID   int
	closed   bool
}

// New wraps a Watermill pair. Zero-valued options fall back to JSON, the
// default namers and a unique reply topic.
func New(t transport.Transport, opts Options) *Client {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.TopicName == nil {
		opts.TopicName = DefaultTopicName
	}
	if opts.ServiceName == nil {
		opts.ServiceName = DefaultServiceName
	}
	if opts.ReplyTopic == "" {
		opts.ReplyTopic = "srv.reply." + strings.ToLower(ids.CreateULID())
	}
	if opts.Logger == nil {
		opts.Logger = watermill.NopLogger{}
	}
	return &Client{
		pub:     t.Publisher,
		sub:     t.Subscriber,
		opts:    opts,
		pending: make(map[string]pendingCall),
		cancels: make(map[int]context.CancelFunc),
	}
}

// Transport returns the wrapped Watermill pair.
func (c *Client) Transport() transport.Transport {
	return transport.Transport{Publisher: c.pub, Subscriber: c.sub}
}

// Capabilities reports the capabilities supplied in Options.
func (c *Client) Capabilities() transport.Capabilities {
	return c.opts.Capabilities
}

// Codec returns the payload codec.
func (c *Client) Codec() Codec {
	return c.opts.Codec
}

// ReplyTopic is the topic this client listens on for service responses.
func (c *Client) ReplyTopic() string {
	return c.opts.ReplyTopic
}

func (c *Client) Subscribe(ctx context.Context, topic transport.Topic, handler transport.Handler) (transport.Subscription, error) {
	name := c.opts.TopicName(topic)
	msgs, stop, err := c.subscribe(name)
	if err != nil {
		return nil, err
	}
	go c.consume(msgs, func(msg *message.Message) {
		if wireType := msg.Metadata.Get(metadata.TypeKey); wireType != "" && topic.Type != "" && wireType != topic.Type {
			c.opts.Logger.Debug("Dropping message with mismatched type", watermill.LogFields{
				"topic":         name,
				"expected_type": topic.Type,
				"wire_type":     wireType,
			})
			return
		}
		value, err := c.decode(msg)
		if err != nil {
			c.opts.Logger.Error("Failed to decode message", err, watermill.LogFields{"topic": name, "message_uuid": msg.UUID})
			return
		}
		handler(value)
	})
	return stop, nil
}

// Advertise is a no-op: Watermill brokers create topics on first publish.
func (c *Client) Advertise(ctx context.Context, topic transport.Topic) error {
	return c.checkOpen()
}

// Unadvertise is a no-op for the same reason as Advertise.
func (c *Client) Unadvertise(ctx context.Context, topic transport.Topic) error {
	return nil
}

func (c *Client) Publish(ctx context.Context, topic transport.Topic, msg any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	m, err := c.newMessage(ctx, ids.CreateULID(), msg, metadata.New(metadata.TypeKey, topic.Type))
	if err != nil {
		return err
	}
	return c.pub.Publish(c.opts.TopicName(topic), m)
}

func (c *Client) Call(ctx context.Context, service transport.Service, request any) (any, error) {
	if err := c.ensureReplies(); err != nil {
		return nil, err
	}

	corr := ids.CreateULID()
	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[corr] = pendingCall{service: service.Name, ch: ch}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, corr)
		c.mu.Unlock()
	}()

	m, err := c.newMessage(ctx, corr, request, metadata.New(
		metadata.CorrelationIDKey, corr,
		metadata.ReplyToKey, c.opts.ReplyTopic,
		metadata.TypeKey, service.Type,
	))
	if err != nil {
		return nil, err
	}
	if err := c.pub.Publish(c.opts.ServiceName(service), m); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve answers requests for service until the subscription is cancelled.
func (c *Client) Serve(ctx context.Context, service transport.Service, fn transport.ServiceFunc) (transport.Subscription, error) {
	name := c.opts.ServiceName(service)
	msgs, stop, err := c.subscribe(name)
	if err != nil {
		return nil, err
	}
	go c.consume(msgs, func(msg *message.Message) {
		incoming := metadata.FromWatermill(msg.Metadata)
		replyTo := incoming.Get(metadata.ReplyToKey)
		corr := incoming.Get(metadata.CorrelationIDKey)
		if replyTo == "" || corr == "" {
			c.opts.Logger.Debug("Ignoring service request without reply route", watermill.LogFields{"service": name})
			return
		}

		var (
			resp    any
			callErr error
		)
		req, err := c.decode(msg)
		if err != nil {
			callErr = err
		} else {
			resp, callErr = fn(msg.Context(), req)
		}

		md := metadata.New(metadata.CorrelationIDKey, corr, metadata.TypeKey, service.Type)
		if callErr != nil {
			md = md.With(metadata.ErrorKey, callErr.Error())
			resp = nil
		}
		reply, err := c.newMessage(context.Background(), ids.CreateULID(), resp, md)
		if err != nil {
			c.opts.Logger.Error("Failed to encode service response", err, watermill.LogFields{"service": name})
			return
		}
		if err := c.pub.Publish(replyTo, reply); err != nil {
			c.opts.Logger.Error("Failed to publish service response", err, watermill.LogFields{"service": name, "reply_to": replyTo})
		}
	})
	return stop, nil
}

// Close cancels every subscription and closes the Watermill pair.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := c.cancels
	c.cancels = map[int]context.CancelFunc{}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	var errs []error
	if c.pub != nil {
		errs = append(errs, c.pub.Close())
	}
	if c.sub != nil && any(c.sub) != any(c.pub) {
		errs = append(errs, c.sub.Close())
	}
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

func (c *Client) subscribe(name string) (<-chan *message.Message, transport.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, errspkg.ErrClosed
	}
	c.nextID++
	id := c.nextID
	subCtx, cancel := context.WithCancel(context.Background())
	c.cancels[id] = cancel
	c.mu.Unlock()

	msgs, err := c.sub.Subscribe(subCtx, name)
	if err != nil {
		c.forget(id)
		cancel()
		return nil, nil, err
	}

	var once sync.Once
	stop := transport.SubscriptionFunc(func() error {
		once.Do(func() {
			c.forget(id)
			cancel()
		})
		return nil
	})
	return msgs, stop, nil
}

func (c *Client) forget(id int) {
	c.mu.Lock()
	delete(c.cancels, id)
	c.mu.Unlock()
}

func (c *Client) consume(msgs <-chan *message.Message, fn func(*message.Message)) {
	for msg := range msgs {
		fn(msg)
		msg.Ack()
	}
}

func (c *Client) ensureReplies() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errspkg.ErrClosed
	}
	if c.replying {
		return nil
	}

	c.nextID++
	id := c.nextID
	subCtx, cancel := context.WithCancel(context.Background())
	msgs, err := c.sub.Subscribe(subCtx, c.opts.ReplyTopic)
	if err != nil {
		cancel()
		return err
	}
	c.cancels[id] = cancel
	c.replying = true
	go c.consume(msgs, c.handleReply)
	return nil
}

func (c *Client) handleReply(msg *message.Message) {
	corr := msg.Metadata.Get(metadata.CorrelationIDKey)
	c.mu.Lock()
	call, ok := c.pending[corr]
	c.mu.Unlock()
	if !ok {
		return
	}

	var res callResult
	if remote := msg.Metadata.Get(metadata.ErrorKey); remote != "" {
		res.err = &errspkg.RemoteError{Service: call.service, Message: remote}
	} else {
		res.value, res.err = c.decode(msg)
	}
	select {
	case call.ch <- res:
	default:
	}
}

func (c *Client) newMessage(ctx context.Context, uuid string, v any, md metadata.Metadata) (*message.Message, error) {
	payload, err := c.opts.Codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := message.NewMessage(uuid, payload)
	if ctx != nil {
		m.SetContext(ctx)
	}
	metadata.Apply(m, md.With(metadata.ContentTypeKey, c.opts.Codec.Name()))
	return m, nil
}

func (c *Client) decode(msg *message.Message) (any, error) {
	codec := c.opts.Codec
	if name := msg.Metadata.Get(metadata.ContentTypeKey); name != "" && name != codec.Name() {
		if alt, err := CodecByName(name); err == nil {
			codec = alt
		}
	}
	return codec.Unmarshal(msg.Payload)
}

var (
	_ transport.Client               = (*Client)(nil)
	_ transport.Server               = (*Client)(nil)
	_ transport.CapabilitiesProvider = (*Client)(nil)
)

// Wrap builds a Client for a Watermill pair using the codec named in cfg.
// Builders of Watermill-backed transports end with this call; tweak adjusts
// broker-specific naming before the client is created.
func Wrap(t transport.Transport, cfg transport.Config, logger watermill.LoggerAdapter, caps transport.Capabilities, tweak ...func(*Options)) (*Client, error) {
	codecName := ""
	if cfg != nil {
		codecName = cfg.GetCodec()
	}
	codec, err := CodecByName(codecName)
	if err != nil {
		return nil, err
	}
	opts := Options{Codec: codec, Logger: logger, Capabilities: caps}
	for _, fn := range tweak {
		fn(&opts)
	}
	return New(t, opts), nil
}
