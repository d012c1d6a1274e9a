package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/nats-io/nats.go"
)

const reconnectWait = 2 * time.Second

// connect dials NATS and keeps reconnecting for as long as the process lives.
func connect(url, name string, logger aqm.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS connection lost", "connection", name, "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "connection", name, "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// NATSPublisher publishes fire-and-forget events over core NATS.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, logger aqm.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	conn, err := connect(url, "teller-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered messages before closing the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NATSSubscriber delivers core NATS messages to handlers. With a queue group
// set, replicas of the service share deliveries instead of each getting a copy.
type NATSSubscriber struct {
	conn   *nats.Conn
	group  string
	logger aqm.Logger
}

func NewNATSSubscriber(url, group string, logger aqm.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	conn, err := connect(url, "teller-subscriber", logger)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: conn, group: group, logger: logger}, nil
}

// Subscribe registers handler for topic. Handler errors are logged; core NATS
// has no redelivery.
func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	cb := func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil {
			s.logger.Error("event handler failed", "topic", msg.Subject, "error", err)
		}
	}

	var err error
	if s.group != "" {
		_, err = s.conn.QueueSubscribe(topic, s.group, cb)
	} else {
		_, err = s.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// Close lets in-flight handlers finish, then closes the connection.
func (s *NATSSubscriber) Close() error {
	return s.conn.Drain()
}
