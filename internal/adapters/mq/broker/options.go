package broker

import (
	"time"

	"github.com/okian/villes/pkg/logger"
)

// ConnectorOption applies a configuration option to the Connector.
type ConnectorOption func(*Connector)

// WithCredentials sets the user and password sent on connect.
func WithCredentials(user, password string) ConnectorOption {
	return func(c *Connector) {
		c.user = user
		c.password = password
	}
}

// WithRetries sets the total number of connection attempts.
func WithRetries(n int) ConnectorOption {
	return func(c *Connector) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithDelay sets the fixed wait between attempts.
func WithDelay(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithConnectionName sets the client name reported to the server.
func WithConnectionName(name string) ConnectorOption {
	return func(c *Connector) {
		if name != "" {
			c.name = name
		}
	}
}

// WithDialer replaces nats.Connect.
func WithDialer(d Dialer) ConnectorOption {
	return func(c *Connector) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithConnectorLogger sets the logger used for connection attempts.
func WithConnectorLogger(l logger.Logger) ConnectorOption {
	return func(c *Connector) {
		c.log = l
	}
}

// Option applies a configuration option to the JetStreamBroker.
type Option func(*JetStreamBroker)

// WithAckWait sets how long an unacknowledged delivery stays in flight
// before the server redelivers it.
func WithAckWait(d time.Duration) Option {
	return func(b *JetStreamBroker) {
		if d > 0 {
			b.ackWait = d
		}
	}
}

// WithFetchWait bounds a single pull request inside Receive.
func WithFetchWait(d time.Duration) Option {
	return func(b *JetStreamBroker) {
		if d > 0 {
			b.fetchWait = d
		}
	}
}

// WithDuplicateWindow sets the stream window used for msg-id dedup.
func WithDuplicateWindow(d time.Duration) Option {
	return func(b *JetStreamBroker) {
		if d > 0 {
			b.duplicates = d
		}
	}
}

// WithDurablePrefix sets the prefix of the shared durable consumer names.
func WithDurablePrefix(p string) Option {
	return func(b *JetStreamBroker) {
		if p != "" {
			b.durablePrefix = p
		}
	}
}
