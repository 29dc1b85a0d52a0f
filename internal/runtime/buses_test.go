package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
)

func TestServiceBus_CallsBoundInvoker(t *testing.T) {
	bus := NewServiceBus()
	off := bus.Register("w::reset", func(ctx context.Context, req any, opts CallOptions) (any, error) {
		return req, nil
	})

	resp, err := bus.Call(context.Background(), "w::reset", "ping", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ping", resp)
	assert.Equal(t, []string{"w::reset"}, bus.Keys())

	off()
	_, err = bus.Call(context.Background(), "w::reset", nil, CallOptions{})
	var unbound *errspkg.NoServiceBoundError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "No service bound for w::reset", err.Error())
}

func TestServiceBus_StaleUnregisterKeepsReplacement(t *testing.T) {
	bus := NewServiceBus()
	offOld := bus.Register("w::reset", func(context.Context, any, CallOptions) (any, error) { return "old", nil })
	bus.Register("w::reset", func(context.Context, any, CallOptions) (any, error) { return "new", nil })

	offOld()
	resp, err := bus.Call(context.Background(), "w::reset", nil, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "new", resp)
	assert.True(t, bus.Has("w::reset"))
}

func TestPublisherBus_GetAndUnregister(t *testing.T) {
	bus := NewPublisherBus()
	var got []any
	off := bus.Register("w::out", func(_ context.Context, v any) { got = append(got, v) })

	fn, ok := bus.Get("w::out")
	require.True(t, ok)
	fn(context.Background(), 1.0)
	assert.Equal(t, []any{1.0}, got)

	off()
	_, ok = bus.Get("w::out")
	assert.False(t, ok)
	assert.Empty(t, bus.Keys())
}

func TestPublisherBus_StaleUnregisterKeepsReplacement(t *testing.T) {
	bus := NewPublisherBus()
	offOld := bus.Register("w::out", func(context.Context, any) {})
	bus.Register("w::out", func(context.Context, any) {})

	offOld()
	_, ok := bus.Get("w::out")
	assert.True(t, ok)
}
