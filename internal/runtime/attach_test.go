package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/widgetbus/internal/runtime/config"
	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
)

func TestAttachAll_SubscriberFanOut(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	tree := map[string]any{
		"A": map[string]any{"widget": map[string]any{"config": map[string]any{
			"speed": subscriberEntry(speedTopic, ".data"),
		}}},
		"B": map[string]any{"widget": map[string]any{"config": map[string]any{
			"speed": subscriberEntry(speedTopic, ".data"),
			"raw":   subscriberEntry(speedTopic, ".missing"),
		}}},
	}
	att := rt.AttachAll(ctx, tree)
	defer att.Detach()

	assert.Equal(t, 1, rt.client.Count(rt.client.SubscribeCalls, speedTopic.Key()))

	var a, b, raw recorder
	rt.ReadAttribute("A", "speed", a.add)
	rt.ReadAttribute("B", "speed", b.add)
	rt.ReadAttribute("B", "raw", raw.add)

	rt.client.Deliver(speedTopic, map[string]any{"data": 4.2})

	assert.Equal(t, []any{4.2}, a.snapshot())
	assert.Equal(t, []any{4.2}, b.snapshot())
	assert.Equal(t, []any{nil}, raw.snapshot(), "absent fields are emitted as nil")
}

func TestAttachAll_ConstantPushedOnce(t *testing.T) {
	rt := newTestRuntime(t)
	att := rt.AttachAll(context.Background(), widgetTree("W", map[string]any{
		"title": map[string]any{"type": "constant", "constant": "Speed (m/s)"},
	}))

	var got recorder
	rt.ReadAttribute("W", "title", got.add)
	rt.sched.run()
	rt.sched.run()
	assert.Equal(t, []any{"Speed (m/s)"}, got.snapshot())

	att.Detach()
	v, ok := rt.Store().Last("W", "title")
	assert.True(t, ok, "constant detach keeps the cached value")
	assert.Equal(t, "Speed (m/s)", v)
}

func TestAttachAll_ServiceBinding(t *testing.T) {
	rt := newTestRuntime(t)
	var gotReq any
	rt.client.Handle(resetSrv, func(_ context.Context, req any) (any, error) {
		gotReq = req
		return map[string]any{"success": true}, nil
	})

	att := rt.AttachAll(context.Background(), widgetTree("W", map[string]any{
		"reset": map[string]any{"type": "service", "service": map[string]any{"name": resetSrv.Name, "type": resetSrv.Type}},
	}))

	resp, err := rt.InvokeService(context.Background(), "W", "reset", nil, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true}, resp)
	assert.Equal(t, map[string]any{}, gotReq, "a nil request is sent as an empty object")

	att.Detach()
	_, err = rt.InvokeService(context.Background(), "W", "reset", nil, CallOptions{})
	assert.ErrorIs(t, err, errspkg.ErrNoServiceBound)
}

func TestAttachAll_ServiceTimeoutFromConfig(t *testing.T) {
	rt := newTestRuntime(t, func(c *configpkg.Config, _ *Dependencies) {
		c.ServiceTimeout = 30 * time.Millisecond
	})
	block := make(chan struct{})
	defer close(block)
	rt.client.Handle(resetSrv, func(context.Context, any) (any, error) {
		<-block
		return nil, nil
	})
	att := rt.AttachAll(context.Background(), widgetTree("W", map[string]any{
		"reset": map[string]any{"type": "service", "service": map[string]any{"name": resetSrv.Name, "type": resetSrv.Type}},
	}))
	defer att.Detach()

	_, err := rt.InvokeService(context.Background(), "W", "reset", nil, CallOptions{})
	assert.ErrorIs(t, err, errspkg.ErrTimeout)
}

func TestAttachAll_PublisherWrapsAtField(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	att := rt.AttachAll(ctx, widgetTree("W", map[string]any{
		"target": map[string]any{
			"type":       "publisher",
			"topic":      map[string]any{"name": cmdTopic.Name, "type": cmdTopic.Type},
			"topicField": ".linear.x",
		},
		"raw": map[string]any{
			"type":  "publisher",
			"topic": map[string]any{"name": cmdTopic.Name, "type": cmdTopic.Type},
		},
	}))

	assert.Equal(t, 1, rt.client.Count(rt.client.AdvertiseCalls, cmdTopic.Key()))

	rt.Publish(ctx, "W", "target", 0.5)
	rt.Publish(ctx, "W", "raw", map[string]any{"linear": map[string]any{"x": 1.0}})
	rt.Publish(ctx, "W", "unbound", 9.0)

	assert.Equal(t, []any{
		map[string]any{"linear": map[string]any{"x": 0.5}},
		map[string]any{"linear": map[string]any{"x": 1.0}},
	}, rt.client.PublishedOn(cmdTopic))

	att.Detach()
	assert.Equal(t, 1, rt.client.Count(rt.client.UnadvertiseCalls, cmdTopic.Key()))
	rt.Publish(ctx, "W", "target", 1.0)
	assert.Len(t, rt.client.PublishedOn(cmdTopic), 2, "publish after detach is a no-op")
}

func TestAttachment_DetachTearsDownSubscriptions(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	tree := widgetTree("W", map[string]any{"speed": subscriberEntry(speedTopic, ".data")})

	for i := 0; i < 3; i++ {
		att := rt.AttachAll(ctx, tree)
		assert.Equal(t, 1, rt.client.ActiveSubscriptions(speedTopic))
		att.Detach()
		att.Detach()
		assert.Equal(t, 0, rt.client.ActiveSubscriptions(speedTopic))
	}
	assert.Empty(t, rt.Topics().Stats())
}

func TestAttachAll_SubscribeFailureIsLogged(t *testing.T) {
	rt := newTestRuntime(t)
	rt.client.SubscribeErr = errors.New("bridge down")

	att := rt.AttachAll(context.Background(), widgetTree("W", map[string]any{
		"speed": subscriberEntry(speedTopic, ".data"),
		"title": map[string]any{"type": "constant", "constant": "x"},
	}))
	defer att.Detach()

	assert.Equal(t, 1, rt.logs.count("error", "Failed to bind subscriber topic"))
	v, ok := rt.Store().Last("W", "title")
	assert.True(t, ok, "the rest of the tree is still attached")
	assert.Equal(t, "x", v)
}

func TestAttachAll_LogsUnknownTags(t *testing.T) {
	rt := newTestRuntime(t)
	att := rt.AttachAll(context.Background(), widgetTree("W", map[string]any{
		"odd": map[string]any{"type": "stream"},
	}))
	defer att.Detach()

	assert.Equal(t, 1, rt.logs.count("debug", "Ignoring value entry with unknown type"))
	assert.Len(t, att.Bindings().Unrecognized, 1)
}

func TestMount_ReplacesTree(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.Mount(ctx, widgetTree("W", map[string]any{"speed": subscriberEntry(speedTopic, ".data")}))
	assert.Len(t, rt.Bindings().Subscribers, 1)

	rt.Mount(ctx, widgetTree("W", map[string]any{"cmd": subscriberEntry(cmdTopic, ".data")}))
	assert.Equal(t, 0, rt.client.ActiveSubscriptions(speedTopic))
	assert.Equal(t, 1, rt.client.ActiveSubscriptions(cmdTopic))
	assert.Equal(t, "cmd", rt.Bindings().Subscribers[0].AttrName)

	rt.Unmount()
	assert.Equal(t, 0, rt.client.ActiveSubscriptions(cmdTopic))
	assert.Zero(t, rt.Bindings().Len())
}

func TestMount_ReattachKeepsServiceSlot(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	rt.client.Handle(resetSrv, func(context.Context, any) (any, error) { return "ok", nil })
	tree := widgetTree("W", map[string]any{
		"reset": map[string]any{"type": "service", "service": map[string]any{"name": resetSrv.Name, "type": resetSrv.Type}},
	})

	old := rt.AttachAll(ctx, tree)
	fresh := rt.AttachAll(ctx, tree)
	old.Detach()
	defer fresh.Detach()

	resp, err := rt.InvokeService(ctx, "W", "reset", nil, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
