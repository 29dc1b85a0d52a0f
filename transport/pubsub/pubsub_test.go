package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	"github.com/drblury/widgetbus/transport"
)

func newGoChannelClient(t *testing.T, opts Options) (*Client, *gochannel.GoChannel) {
	t.Helper()
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	client := New(transport.Transport{Publisher: ch, Subscriber: ch}, opts)
	t.Cleanup(func() { _ = client.Close() })
	return client, ch
}

type collector struct {
	mu   sync.Mutex
	msgs []any
}

func (c *collector) handle(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) at(i int) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[i]
}

var speed = transport.Topic{Name: "/speed", Type: "std_msgs/msg/Float64"}

func TestSubscribePublishRoundTrip(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{})
	ctx := context.Background()

	got := &collector{}
	sub, err := client.Subscribe(ctx, speed, got.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, client.Advertise(ctx, speed))
	require.NoError(t, client.Publish(ctx, speed, map[string]any{"data": 4.2}))

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"data": 4.2}, got.at(0))
}

func TestSubscribeDropsMismatchedType(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{})
	ctx := context.Background()

	got := &collector{}
	sub, err := client.Subscribe(ctx, speed, got.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	other := transport.Topic{Name: "/speed", Type: "std_msgs/msg/String"}
	require.NoError(t, client.Publish(ctx, other, map[string]any{"data": "fast"}))
	require.NoError(t, client.Publish(ctx, speed, map[string]any{"data": 1.0}))

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return got.len() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"data": 1.0}, got.at(0))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{})
	ctx := context.Background()

	got := &collector{}
	sub, err := client.Subscribe(ctx, speed, got.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe(), "second unsubscribe is a no-op")

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Publish(ctx, speed, map[string]any{"data": 2.0}))
	assert.Never(t, func() bool { return got.len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCallServeRoundTrip(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{})
	ctx := context.Background()
	reset := transport.Service{Name: "/reset", Type: "std_srvs/srv/Trigger"}

	srv, err := client.Serve(ctx, reset, func(ctx context.Context, req any) (any, error) {
		m := req.(map[string]any)
		return map[string]any{"success": true, "message": m["reason"]}, nil
	})
	require.NoError(t, err)
	defer srv.Unsubscribe()

	callCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	resp, err := client.Call(callCtx, reset, map[string]any{"reason": "operator"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true, "message": "operator"}, resp)
}

func TestCallSurfacesRemoteError(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{})
	ctx := context.Background()
	svc := transport.Service{Name: "/explode", Type: "std_srvs/srv/Trigger"}

	srv, err := client.Serve(ctx, svc, func(context.Context, any) (any, error) {
		return nil, errors.New("not today")
	})
	require.NoError(t, err)
	defer srv.Unsubscribe()

	callCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = client.Call(callCtx, svc, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errspkg.ErrRemote))
	assert.Contains(t, err.Error(), "not today")
}

func TestCallWithoutServerHonoursContext(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, transport.Service{Name: "/nobody", Type: "x"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.pending, "pending call must be released")
}

func TestProtoJSONCodecEndToEnd(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{Codec: ProtoJSONCodec{}})
	ctx := context.Background()

	got := &collector{}
	sub, err := client.Subscribe(ctx, speed, got.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	type reading struct {
		Data float64 `json:"data"`
	}
	require.NoError(t, client.Publish(ctx, speed, reading{Data: 3}))
	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"data": 3.0}, got.at(0))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.Name())

	c, err = CodecByName("ProtoJSON")
	require.NoError(t, err)
	assert.Equal(t, CodecProtoJSON, c.Name())

	_, err = CodecByName("xml")
	assert.Error(t, err)

	data, err := ProtoJSONCodec{}.Marshal(map[string]any{"list": []any{1.0, "a"}})
	require.NoError(t, err)
	back, err := ProtoJSONCodec{}.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"list": []any{1.0, "a"}}, back)

	empty, err := ProtoJSONCodec{}.Unmarshal(nil)
	assert.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDefaultNames(t *testing.T) {
	assert.Equal(t, "robot.speed", DefaultTopicName(transport.Topic{Name: "/robot/speed/"}))
	assert.Equal(t, "root", DefaultTopicName(transport.Topic{Name: "/"}))
	assert.Equal(t, "srv.robot.reset", DefaultServiceName(transport.Service{Name: "/robot/reset"}))
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	client, _ := newGoChannelClient(t, Options{Capabilities: transport.ChannelCapabilities})
	assert.Equal(t, "channel", client.Capabilities().Name)
	assert.NotEmpty(t, client.ReplyTopic())

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	ctx := context.Background()
	assert.ErrorIs(t, client.Publish(ctx, speed, nil), errspkg.ErrClosed)
	_, err := client.Subscribe(ctx, speed, func(any) {})
	assert.ErrorIs(t, err, errspkg.ErrClosed)
	_, err = client.Call(ctx, transport.Service{Name: "/x"}, nil)
	assert.ErrorIs(t, err, errspkg.ErrClosed)
}
