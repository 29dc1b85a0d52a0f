package runtime

import (
	"context"
	"sort"

	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/internal/runtime/pathutil"
	"github.com/drblury/widgetbus/internal/runtime/scan"
)

// bindSubscribers adds one registry listener per distinct topic. Each message
// is split into the fields the bindings of that topic ask for and emitted to
// their slots, absent fields as nil.
func (rt *Runtime) bindSubscribers(ctx context.Context, bindings []scan.SubscriberBinding) []func() {
	byTopic := make(map[string][]scan.SubscriberBinding)
	for _, b := range bindings {
		key := b.Topic.Key()
		byTopic[key] = append(byTopic[key], b)
	}

	keys := make([]string, 0, len(byTopic))
	for k := range byTopic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var detach []func()
	for _, key := range keys {
		group := byTopic[key]
		topic := group[0].Topic
		remove, err := rt.topics.AddListener(ctx, topic, func(msg any) {
			for _, b := range group {
				rt.store.Emit(b.InstanceID, b.AttrName, pathutil.Get(msg, b.TopicField))
			}
		})
		if err != nil {
			rt.Logger.Error("Failed to bind subscriber topic", err, loggingpkg.LogFields{
				"topic":    topic.Name,
				"type":     topic.Type,
				"bindings": len(group),
			})
			continue
		}
		detach = append(detach, remove)
	}
	return detach
}

// bindServices installs an invoker per service binding. A nil request is
// sent as an empty object.
func (rt *Runtime) bindServices(bindings []scan.ServiceBinding) []func() {
	detach := make([]func(), 0, len(bindings))
	for _, b := range bindings {
		svc, key := b.Service, b.Key()
		detach = append(detach, rt.serviceBus.Register(key, func(ctx context.Context, req any, opts CallOptions) (any, error) {
			if req == nil {
				req = map[string]any{}
			}
			if opts.BindingKey == "" {
				opts.BindingKey = key
			}
			return rt.services.Call(ctx, svc, req, opts)
		}))
	}
	return detach
}

// bindConstants emits every constant once. Cached values outlive the binding.
func (rt *Runtime) bindConstants(bindings []scan.ConstantBinding) []func() {
	for _, b := range bindings {
		rt.store.Emit(b.InstanceID, b.AttrName, b.Value)
	}
	return nil
}

// bindPublishers installs a publish function per publisher binding. With a
// topic field the value is wrapped into a fresh message at that path,
// otherwise it is sent as is.
func (rt *Runtime) bindPublishers(ctx context.Context, bindings []scan.PublisherBinding) []func() {
	detach := make([]func(), 0, 2*len(bindings))
	for _, b := range bindings {
		pub := rt.topics.Publisher(ctx, b.Topic)
		field := b.TopicField
		unregister := rt.publisherBus.Register(b.Key(), func(ctx context.Context, value any) {
			msg := value
			if field != "" {
				msg = pathutil.Set(nil, field, value)
			}
			pub.Publish(ctx, msg)
		})
		detach = append(detach, unregister, pub.Dispose)
	}
	return detach
}
