// Package widgetbus binds the attributes of dashboard widgets to a
// publish/subscribe and RPC bus. A layout (tabs and grids nesting widgets)
// declares, per widget attribute, whether the attribute is fed from a topic
// field, published to a topic, backed by a service or fixed to a constant.
//
// Runtime scans the layout, opens at most one subscription and one
// advertisement per topic however many widgets share it, keeps one service
// client per service, and routes every delivered value into an instance
// store keyed by widget instance and attribute. Widgets read values with
// ReadAttribute, call services with InvokeService and send values with
// Publish. Detaching an Attachment releases everything it acquired.
//
// # Transports
//
// The bus client is selected by Config.Transport:
//   - channel, channel-shared: In-memory Go channels for tests and demos
//   - rosbridge: rosbridge v2 JSON protocol over a websocket
//   - nats: NATS pub/sub with native request/reply
//   - redis: Redis Pub/Sub with reply channels
//   - kafka, rabbitmq, http, aws: Watermill brokers with emulated request/reply
//
// # Observability
//
// Service calls run through CallHooks (LoggingHooks, AlertingHooks) and an
// OpenTelemetry span. Prometheus collectors cover topic entries, listeners,
// received messages, publishes and call latency. The introspection API lists
// the mounted bindings and registry state as JSON.
//
// The widgetbus command scans layouts, watches attribute updates, calls
// services and publishes values from the shell.
package widgetbus
