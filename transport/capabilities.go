package transport

// Capabilities describes what a bus backend does natively.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsNativeRPC is true when the broker has request/reply built in.
	// Otherwise calls are emulated with a reply topic and correlation ids.
	SupportsNativeRPC bool

	// SupportsAdvertise is true when publishers must announce a topic before
	// publishing on it.
	SupportsAdvertise bool

	// SupportsOrdering indicates per-topic delivery order is preserved.
	SupportsOrdering bool

	// SupportsTypedTopics indicates the message type travels with the topic
	// on the wire rather than only in message metadata.
	SupportsTypedTopics bool

	// MaxMessageSize is the maximum message size in bytes (0 = unknown).
	MaxMessageSize int64
}

// RequiresRPCEmulation reports whether service calls ride on pub/sub.
func (c Capabilities) RequiresRPCEmulation() bool {
	return !c.SupportsNativeRPC
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		MaxMessageSize:   1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
	}

	NATSCapabilities = Capabilities{
		Name:              "nats",
		SupportsNativeRPC: true,
		MaxMessageSize:    1048576,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		MaxMessageSize:   262144,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}

	RedisCapabilities = Capabilities{
		Name:             "redis",
		SupportsOrdering: true,
		MaxMessageSize:   536870912,
	}

	RosbridgeCapabilities = Capabilities{
		Name:                "rosbridge",
		SupportsNativeRPC:   true,
		SupportsAdvertise:   true,
		SupportsOrdering:    true,
		SupportsTypedTopics: true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
