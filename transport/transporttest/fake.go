// Package transporttest provides an in-memory transport.Client for tests that
// records every call so registries can be checked for deduplication.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/widgetbus/transport"
)

// ErrNoHandler is returned by Call when no service func is configured.
var ErrNoHandler = errors.New("transporttest: no handler for service")

// FakeClient is a synchronous in-memory bus. Deliver fans a message out to
// every subscription on a topic on the caller's goroutine.
type FakeClient struct {
	mu sync.Mutex

	subs     map[string]map[int]transport.Handler
	nextID   int
	services map[string]transport.ServiceFunc

	// Failure injection.
	SubscribeErr   error
	AdvertiseErr   error
	PublishErr     error
	UnadvertiseErr error

	// Call counts keyed by topic or service key.
	SubscribeCalls   map[string]int
	UnsubscribeCalls map[string]int
	AdvertiseCalls   map[string]int
	UnadvertiseCalls map[string]int
	CallCalls        map[string]int
	Published        []Published
	Closed           bool
}

// Published records one Publish call.
type Published struct {
	Topic transport.Topic
	Msg   any
}

// NewFakeClient returns an empty fake bus.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		subs:             make(map[string]map[int]transport.Handler),
		services:         make(map[string]transport.ServiceFunc),
		SubscribeCalls:   make(map[string]int),
		UnsubscribeCalls: make(map[string]int),
		AdvertiseCalls:   make(map[string]int),
		UnadvertiseCalls: make(map[string]int),
		CallCalls:        make(map[string]int),
	}
}

func (f *FakeClient) Subscribe(ctx context.Context, topic transport.Topic, handler transport.Handler) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := topic.Key()
	f.SubscribeCalls[key]++
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	if f.subs[key] == nil {
		f.subs[key] = make(map[int]transport.Handler)
	}
	f.nextID++
	id := f.nextID
	f.subs[key][id] = handler

	var once sync.Once
	return transport.SubscriptionFunc(func() error {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.UnsubscribeCalls[key]++
			delete(f.subs[key], id)
		})
		return nil
	}), nil
}

func (f *FakeClient) Advertise(ctx context.Context, topic transport.Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AdvertiseCalls[topic.Key()]++
	return f.AdvertiseErr
}

func (f *FakeClient) Unadvertise(ctx context.Context, topic transport.Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UnadvertiseCalls[topic.Key()]++
	return f.UnadvertiseErr
}

func (f *FakeClient) Publish(ctx context.Context, topic transport.Topic, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.Published = append(f.Published, Published{Topic: topic, Msg: msg})
	return nil
}

// Handle installs fn as the responder for service.
func (f *FakeClient) Handle(service transport.Service, fn transport.ServiceFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[service.Key()] = fn
}

func (f *FakeClient) Call(ctx context.Context, service transport.Service, request any) (any, error) {
	f.mu.Lock()
	f.CallCalls[service.Key()]++
	fn := f.services[service.Key()]
	f.mu.Unlock()
	if fn == nil {
		return nil, ErrNoHandler
	}
	return fn(ctx, request)
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Deliver pushes msg to every current subscriber of topic.
func (f *FakeClient) Deliver(topic transport.Topic, msg any) {
	f.mu.Lock()
	handlers := make([]transport.Handler, 0, len(f.subs[topic.Key()]))
	for _, h := range f.subs[topic.Key()] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// ActiveSubscriptions reports how many live subscriptions a topic has.
func (f *FakeClient) ActiveSubscriptions(topic transport.Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic.Key()])
}

// Count returns m[key] under the client lock.
func (f *FakeClient) Count(m map[string]int, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[key]
}

// PublishedOn returns the messages published on topic so far.
func (f *FakeClient) PublishedOn(topic transport.Topic) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, p := range f.Published {
		if p.Topic.Key() == topic.Key() {
			out = append(out, p.Msg)
		}
	}
	return out
}

// Config is a transport.Config whose getters return the struct fields.
type Config struct {
	Transport          string
	Codec              string
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	RedisURL           string
	RosbridgeURL       string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetTransport() string          { return c.Transport }
func (c *Config) GetCodec() string              { return c.Codec }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetRedisURL() string           { return c.RedisURL }
func (c *Config) GetRosbridgeURL() string       { return c.RosbridgeURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

var _ transport.Client = (*FakeClient)(nil)
var _ transport.Config = (*Config)(nil)

// MockPublisher is a Watermill publisher that records topics.
type MockPublisher struct {
	mu     sync.Mutex
	Topics []string
	Err    error
	Closed bool
}

func (m *MockPublisher) Publish(topic string, messages ...*message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for range messages {
		m.Topics = append(m.Topics, topic)
	}
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// MockSubscriber is a Watermill subscriber that never delivers.
type MockSubscriber struct {
	mu     sync.Mutex
	Topics []string
	Closed bool
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	m.mu.Lock()
	m.Topics = append(m.Topics, topic)
	m.mu.Unlock()
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (m *MockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
