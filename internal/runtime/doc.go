/*
Package runtime binds dashboard widget attributes to topics and services on
a pub/sub and RPC bus.

# Architecture Overview

A layout tree describes widgets. Each widget's config maps attribute names to
value entries tagged subscriber, publisher, service or constant. AttachAll
scans the tree (package scan), then wires every entry:

  - subscriber: one shared listener per topic splits each message into the
    fields the bindings ask for and emits them into the InstanceStore.
  - publisher: a PublishFunc on the PublisherBus wraps the widget value at the
    configured field and publishes it on a shared topic handle.
  - service: an Invoker on the ServiceBus calls the service with a deadline.
  - constant: the value is emitted into the InstanceStore once.

# Package Structure

## Runtime (runtime.go, default.go)

Runtime owns the transport client, both shared registries, the instance store
and both buses. Widgets use ReadAttribute, InvokeService and Publish. Init and
Default keep a process-wide runtime; ResetForTests drops it.

## Shared registries (topics.go, services.go)

SharedTopicRegistry keeps one transport subscription and one advertisement per
topic key and fans messages out to its listeners. SharedServiceRegistry keeps
one handle per service key and races each call against its timeout.

## Instance store and buses (store.go, service_bus.go, publisher_bus.go)

InstanceStore caches the last value per (instance, attribute) slot and replays
it once to late consumers. The buses route widget calls to bindings by slot.

## Observability (metrics.go, hooks.go, introspect.go)

Prometheus collectors, CallHooks around service calls and a read-only JSON
API listing bindings, topics and services.

# Sub-packages

  - config/: Runtime configuration with validation and viper loading
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for correlation and reply topics
  - jsoncodec/: JSON marshaling utilities
  - layout/: Typed layout model and YAML loading
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - pathutil/: Field path lookup and placement
  - rclparams/: ROS 2 parameter service payloads
  - scan/: Layout scanning and binding extraction
  - transport/: Transport factory over the public transport registry

# Usage Example

	rt, err := runtime.NewRuntime(ctx, cfg, logger, runtime.Dependencies{})
	if err != nil {
		return err
	}
	defer rt.Close()

	tree, err := layout.LoadTree(file)
	if err != nil {
		return err
	}
	rt.Mount(ctx, tree)

	off := rt.ReadAttribute("tabs.items.drive.grids.items.speed", "value", func(v any) {
		fmt.Println("speed", v)
	})
	defer off()
*/
package runtime
