// Package rosbridge provides a transport speaking the rosbridge v2 JSON
// protocol over a websocket. Topics, advertisements and services are native,
// so no emulation is involved.
package rosbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	"github.com/drblury/widgetbus/internal/runtime/ids"
	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
	"github.com/drblury/widgetbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rosbridge"

// DefaultURL is used when no rosbridge URL is configured.
const DefaultURL = "ws://localhost:9090"

// ErrNotConnected is returned when a frame is sent without a live websocket.
var ErrNotConnected = errors.New("rosbridge: not connected")

// Dialer allows overriding the websocket dialer for testing.
var Dialer = websocket.DefaultDialer

// Protocol operations.
const (
	OpSubscribe          = "subscribe"
	OpUnsubscribe        = "unsubscribe"
	OpAdvertise          = "advertise"
	OpUnadvertise        = "unadvertise"
	OpPublish            = "publish"
	OpCallService        = "call_service"
	OpServiceResponse    = "service_response"
	OpAdvertiseService   = "advertise_service"
	OpUnadvertiseService = "unadvertise_service"
)

// Frame is one rosbridge protocol message.
type Frame struct {
	Op      string `json:"op"`
	ID      string `json:"id,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Service string `json:"service,omitempty"`
	Type    string `json:"type,omitempty"`
	Msg     any    `json:"msg,omitempty"`
	Args    any    `json:"args,omitempty"`
	Values  any    `json:"values,omitempty"`
	Result  *bool  `json:"result,omitempty"`
}

func init() {
	Register()
}

// Register registers the rosbridge transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RosbridgeCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RosbridgeCapabilities
}

type topicState struct {
	id       string
	typ      string
	handlers map[int]transport.Handler
}

type serviceState struct {
	id  string
	typ string
	fn  transport.ServiceFunc
}

type callResult struct {
	frame Frame
	err   error
}

// Client is a rosbridge websocket connection. Subscriptions, advertisements
// and served services survive SetURL.
type Client struct {
	logger watermill.LoggerAdapter

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	url        string
	topics     map[string]*topicState
	advertised map[string]transport.Topic
	adIDs      map[string]string
	services   map[string]*serviceState
	pending    map[string]chan callResult
	nextID     int
	closed     bool
}

// Build dials the configured rosbridge server. The codec setting is ignored:
// rosbridge speaks JSON only.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	url := cfg.GetRosbridgeURL()
	if url == "" {
		url = DefaultURL
	}
	c := New(logger)
	if err := c.connect(ctx, url); err != nil {
		return nil, err
	}
	return c, nil
}

// New returns an unconnected client. Call SetURL to connect.
func New(logger watermill.LoggerAdapter) *Client {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Client{
		logger:     logger,
		topics:     make(map[string]*topicState),
		advertised: make(map[string]transport.Topic),
		adIDs:      make(map[string]string),
		services:   make(map[string]*serviceState),
		pending:    make(map[string]chan callResult),
	}
}

func (c *Client) Capabilities() transport.Capabilities {
	return transport.RosbridgeCapabilities
}

// URL returns the endpoint of the current connection.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetURL reconnects to url and replays subscriptions, advertisements and
// served services on the new connection.
func (c *Client) SetURL(ctx context.Context, url string) error {
	c.mu.Lock()
	same := c.url == url && c.conn != nil
	c.mu.Unlock()
	if same {
		return nil
	}
	return c.connect(ctx, url)
}

func (c *Client) Subscribe(ctx context.Context, topic transport.Topic, handler transport.Handler) (transport.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errspkg.ErrClosed
	}
	st := c.topics[topic.Name]
	if st != nil && st.typ != topic.Type {
		// One wire subscription per name carries a single message type.
		c.mu.Unlock()
		err := fmt.Errorf("%w: %s is %s, not %s", errspkg.ErrTopicTypeConflict, topic.Name, st.typ, topic.Type)
		c.logger.Error("Conflicting rosbridge subscription", err, watermill.LogFields{"topic": topic.Name, "type": topic.Type})
		return nil, err
	}
	first := st == nil
	if first {
		st = &topicState{
			id:       ids.Prefixed(OpSubscribe + ":" + topic.Name),
			typ:      topic.Type,
			handlers: make(map[int]transport.Handler),
		}
		c.topics[topic.Name] = st
	}
	c.nextID++
	id := c.nextID
	st.handlers[id] = handler
	c.mu.Unlock()

	if first {
		if err := c.send(Frame{Op: OpSubscribe, ID: st.id, Topic: topic.Name, Type: st.typ}); err != nil {
			c.mu.Lock()
			delete(c.topics, topic.Name)
			c.mu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	return transport.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			c.mu.Lock()
			delete(st.handlers, id)
			last := len(st.handlers) == 0 && c.topics[topic.Name] == st
			if last {
				delete(c.topics, topic.Name)
			}
			c.mu.Unlock()
			if last {
				err = c.sendIfConnected(Frame{Op: OpUnsubscribe, ID: st.id, Topic: topic.Name})
			}
		})
		return err
	}), nil
}

func (c *Client) Advertise(ctx context.Context, topic transport.Topic) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errspkg.ErrClosed
	}
	id, ok := c.adIDs[topic.Name]
	if !ok {
		id = ids.Prefixed(OpAdvertise + ":" + topic.Name)
		c.adIDs[topic.Name] = id
	}
	c.advertised[topic.Name] = topic
	c.mu.Unlock()
	return c.send(Frame{Op: OpAdvertise, ID: id, Topic: topic.Name, Type: topic.Type})
}

func (c *Client) Unadvertise(ctx context.Context, topic transport.Topic) error {
	c.mu.Lock()
	id, ok := c.adIDs[topic.Name]
	delete(c.adIDs, topic.Name)
	delete(c.advertised, topic.Name)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.sendIfConnected(Frame{Op: OpUnadvertise, ID: id, Topic: topic.Name})
}

func (c *Client) Publish(ctx context.Context, topic transport.Topic, msg any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if msg == nil {
		msg = map[string]any{}
	}
	return c.send(Frame{Op: OpPublish, Topic: topic.Name, Msg: msg})
}

func (c *Client) Call(ctx context.Context, service transport.Service, request any) (any, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	id := ids.Prefixed(OpCallService + ":" + service.Name)
	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if request == nil {
		request = map[string]any{}
	}
	if err := c.send(Frame{Op: OpCallService, ID: id, Service: service.Name, Type: service.Type, Args: request}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.frame.Result != nil && !*res.frame.Result {
			return nil, &errspkg.RemoteError{Service: service.Name, Message: describe(res.frame.Values)}
		}
		return res.frame.Values, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve advertises service on the bridge and answers its calls.
func (c *Client) Serve(ctx context.Context, service transport.Service, fn transport.ServiceFunc) (transport.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errspkg.ErrClosed
	}
	st := &serviceState{id: ids.Prefixed(OpAdvertiseService + ":" + service.Name), typ: service.Type, fn: fn}
	c.services[service.Name] = st
	c.mu.Unlock()

	if err := c.send(Frame{Op: OpAdvertiseService, ID: st.id, Service: service.Name, Type: service.Type}); err != nil {
		c.mu.Lock()
		delete(c.services, service.Name)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return transport.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			c.mu.Lock()
			owned := c.services[service.Name] == st
			if owned {
				delete(c.services, service.Name)
			}
			c.mu.Unlock()
			if owned {
				err = c.sendIfConnected(Frame{Op: OpUnadvertiseService, ID: st.id, Service: service.Name})
			}
		})
		return err
	}), nil
}

// Close closes the websocket and fails calls still in flight.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked(errspkg.ErrClosed)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errspkg.ErrClosed
	}
	return nil
}

func (c *Client) connect(ctx context.Context, url string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	conn, _, err := Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("rosbridge: dial %s: %w", url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errspkg.ErrClosed
	}
	old := c.conn
	c.conn = conn
	c.url = url
	c.failPendingLocked(ErrNotConnected)
	replay := c.replayLocked()
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.logger.Info("Connected to rosbridge", watermill.LogFields{"url": url, "replayed": len(replay)})
	go c.readLoop(conn)

	for _, f := range replay {
		if err := c.send(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) replayLocked() []Frame {
	var frames []Frame
	for name, st := range c.topics {
		frames = append(frames, Frame{Op: OpSubscribe, ID: st.id, Topic: name, Type: st.typ})
	}
	for name, topic := range c.advertised {
		frames = append(frames, Frame{Op: OpAdvertise, ID: c.adIDs[name], Topic: name, Type: topic.Type})
	}
	for name, st := range c.services {
		frames = append(frames, Frame{Op: OpAdvertiseService, ID: st.id, Service: name, Type: st.typ})
	}
	return frames
}

func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		select {
		case ch <- callResult{err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *Client) send(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := jsoncodec.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) sendIfConnected(f Frame) error {
	if err := c.send(f); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
				c.failPendingLocked(ErrNotConnected)
			}
			closed := c.closed
			c.mu.Unlock()
			if current && !closed {
				c.logger.Error("rosbridge connection lost", err, watermill.LogFields{"url": c.URL()})
			}
			return
		}
		var f Frame
		if err := jsoncodec.Unmarshal(data, &f); err != nil {
			c.logger.Error("Failed to decode rosbridge frame", err, nil)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Op {
	case OpPublish:
		c.mu.Lock()
		var handlers []transport.Handler
		if st := c.topics[f.Topic]; st != nil {
			for _, h := range st.handlers {
				handlers = append(handlers, h)
			}
		}
		c.mu.Unlock()
		for _, h := range handlers {
			h(f.Msg)
		}
	case OpServiceResponse:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- callResult{frame: f}:
			default:
			}
		}
	case OpCallService:
		c.mu.Lock()
		st := c.services[f.Service]
		c.mu.Unlock()
		if st == nil {
			return
		}
		go c.answer(st, f)
	default:
		c.logger.Debug("Ignoring rosbridge frame", watermill.LogFields{"op": f.Op})
	}
}

func (c *Client) answer(st *serviceState, req Frame) {
	resp, err := st.fn(context.Background(), req.Args)
	ok := err == nil
	out := Frame{Op: OpServiceResponse, ID: req.ID, Service: req.Service, Result: &ok, Values: resp}
	if err != nil {
		out.Values = err.Error()
	}
	if err := c.send(out); err != nil {
		c.logger.Error("Failed to send service response", err, watermill.LogFields{"service": req.Service})
	}
}

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := jsoncodec.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

var (
	_ transport.Client               = (*Client)(nil)
	_ transport.Server               = (*Client)(nil)
	_ transport.URLSwitcher          = (*Client)(nil)
	_ transport.CapabilitiesProvider = (*Client)(nil)
)
