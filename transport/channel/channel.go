// Package channel provides in-memory transports on Watermill's gochannel.
//
// "channel" gives every client a private bus, which suits tests and a
// dashboard that only talks to itself. "channel-shared" connects every client
// in the process to one bus, so a mock robot runtime and a dashboard runtime
// can exchange messages without a broker.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
)

const (
	// TransportName is the name of the private bus transport.
	TransportName = "channel"
	// SharedTransportName is the name of the process-wide bus transport.
	SharedTransportName = "channel-shared"
)

// BusConfig configures every bus this package creates. Publishers never wait
// for subscriber acks.
var BusConfig = gochannel.Config{OutputChannelBuffer: 64}

// Factory creates the publisher/subscriber pair behind a bus.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

var (
	sharedMu  sync.Mutex
	sharedBus *processBus
)

// processBus outlives the clients using it; their Close must not close it.
type processBus struct {
	message.Publisher
	message.Subscriber
}

func (*processBus) Close() error { return nil }

func init() {
	Register()
}

// Register registers both channel transports with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
	shared := transport.ChannelCapabilities
	shared.Name = SharedTransportName
	transport.RegisterWithCapabilities(SharedTransportName, BuildShared, shared)
}

// Capabilities returns the capabilities of the private bus transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Build returns a client on a new private bus. Closing the client closes the bus.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	pub, sub := Factory(BusConfig, logger)
	return pubsub.Wrap(transport.Transport{Publisher: pub, Subscriber: sub}, cfg, logger, transport.ChannelCapabilities)
}

// BuildShared returns a client on the process-wide bus, creating it on first use.
func BuildShared(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	sharedMu.Lock()
	if sharedBus == nil {
		pub, sub := Factory(BusConfig, logger)
		sharedBus = &processBus{Publisher: pub, Subscriber: sub}
	}
	bus := sharedBus
	sharedMu.Unlock()

	caps := transport.ChannelCapabilities
	caps.Name = SharedTransportName
	return pubsub.Wrap(transport.Transport{Publisher: bus, Subscriber: bus}, cfg, logger, caps)
}

// ResetShared closes the process-wide bus. The next BuildShared starts a new one.
func ResetShared() error {
	sharedMu.Lock()
	bus := sharedBus
	sharedBus = nil
	sharedMu.Unlock()
	if bus == nil {
		return nil
	}
	err := bus.Publisher.Close()
	if any(bus.Subscriber) != any(bus.Publisher) {
		if serr := bus.Subscriber.Close(); err == nil {
			err = serr
		}
	}
	return err
}
