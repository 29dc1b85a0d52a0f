// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/widgetbus/transport/aws"
	_ "github.com/drblury/widgetbus/transport/channel"
	_ "github.com/drblury/widgetbus/transport/http"
	_ "github.com/drblury/widgetbus/transport/kafka"
	_ "github.com/drblury/widgetbus/transport/nats"
	_ "github.com/drblury/widgetbus/transport/rabbitmq"
	_ "github.com/drblury/widgetbus/transport/redis"
	_ "github.com/drblury/widgetbus/transport/rosbridge"
)
