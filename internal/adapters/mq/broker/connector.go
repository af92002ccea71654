// Package broker connects to the NATS JetStream server and exposes its
// streams as the durable queues of the pipeline.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/okian/villes/pkg/logger"
	"github.com/okian/villes/pkg/metrics"
)

// Dialer opens one connection attempt.
type Dialer func(url string, opts ...nats.Option) (*nats.Conn, error)

// Connector establishes the initial broker connection with a bounded number
// of attempts separated by a fixed delay. Only the initial connect is
// retried: the returned connection does not reconnect on its own.
type Connector struct {
	url      string
	user     string
	password string
	name     string
	retries  int
	delay    time.Duration
	timeout  time.Duration
	dial     Dialer
	log      logger.Logger
}

// NewConnector creates a connector for url.
func NewConnector(url string, opts ...ConnectorOption) *Connector {
	c := &Connector{
		url:     url,
		name:    "villes",
		retries: 10,
		delay:   5 * time.Second,
		timeout: 2 * time.Second,
		dial:    nats.Connect,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("broker")
	}
	return c
}

// Connect tries up to retries times and returns ErrBrokerUnavailable when
// every attempt failed.
func (c *Connector) Connect(ctx context.Context) (*nats.Conn, error) {
	natsOpts := []nats.Option{
		nats.Name(c.name),
		nats.Timeout(c.timeout),
		nats.NoReconnect(),
	}
	if c.user != "" {
		natsOpts = append(natsOpts, nats.UserInfo(c.user, c.password))
	}

	var conn *nats.Conn
	attempt := 0
	op := func() error {
		attempt++
		c.log.Info(ctx, "connecting to broker",
			logger.String("url", c.url),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", c.retries),
		)
		nc, err := c.dial(c.url, natsOpts...)
		if err != nil {
			metrics.RecordBrokerConnectAttempt("failed")
			return err
		}
		metrics.RecordBrokerConnectAttempt("connected")
		conn = nc
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn(ctx, "broker not ready, retrying",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", c.retries),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), uint64(c.retries-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		c.log.Error(ctx, "giving up on broker",
			logger.String("url", c.url),
			logger.Int("attempts", attempt),
			logger.Error(err),
		)
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrBrokerUnavailable, c.url, attempt, err)
	}
	c.log.Info(ctx, "connected to broker", logger.String("url", c.url), logger.Int("attempt", attempt))
	return conn, nil
}
