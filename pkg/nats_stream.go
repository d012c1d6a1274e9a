package pkg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const maxRedeliveryDelay = 30 * time.Second

// NATSStreamConfig describes a JetStream stream and, optionally, the durable
// consumer this service reads it with.
type NATSStreamConfig struct {
	URL        string
	StreamName string
	Subjects   []string
	MaxAge     time.Duration
	MaxMsgs    int64 // 0 = unlimited

	// ConsumerName creates a durable consumer when set. Publish-only streams
	// leave it empty and let downstream services create their own.
	ConsumerName  string
	FilterSubject string
	AckWait       time.Duration
	// MaxDeliver terminates a message that keeps failing after this many
	// deliveries. 0 retries forever.
	MaxDeliver int
}

// NATSStream publishes to a JetStream stream and consumes it through a
// durable consumer so events survive restarts.
type NATSStream struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	cfg      NATSStreamConfig
	consumer jetstream.Consumer
	logger   aqm.Logger

	mu       sync.Mutex
	consumes []jetstream.ConsumeContext
}

func NewNATSStream(cfg NATSStreamConfig, logger aqm.Logger) (*NATSStream, error) {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if cfg.StreamName == "" || len(cfg.Subjects) == 0 {
		return nil, errors.New("stream name and subjects are required")
	}

	name := cfg.ConsumerName
	if name == "" {
		name = strings.ToLower(cfg.StreamName) + "-publisher"
	}
	conn, err := connect(cfg.URL, name, logger)
	if err != nil {
		return nil, err
	}

	s := &NATSStream{conn: conn, cfg: cfg, logger: logger}
	if err := s.setup(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *NATSStream) setup(ctx context.Context) error {
	js, err := jetstream.New(s.conn)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	s.js = js

	streamConfig := jetstream.StreamConfig{
		Name:     s.cfg.StreamName,
		Subjects: s.cfg.Subjects,
		MaxAge:   s.cfg.MaxAge,
	}
	if s.cfg.MaxMsgs > 0 {
		streamConfig.MaxMsgs = s.cfg.MaxMsgs
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", s.cfg.StreamName, err)
	}

	if s.cfg.ConsumerName == "" {
		return nil
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          s.cfg.ConsumerName,
		Durable:       s.cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: s.cfg.FilterSubject,
		AckWait:       s.cfg.AckWait,
	}
	if s.cfg.MaxDeliver > 0 {
		consumerConfig.MaxDeliver = s.cfg.MaxDeliver
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer %s: %w", s.cfg.ConsumerName, err)
	}
	s.consumer = consumer

	s.logger.Info("JetStream consumer ready", "stream", s.cfg.StreamName, "consumer", s.cfg.ConsumerName)
	return nil
}

// Publish stores msg in the stream and waits for the server ack.
func (s *NATSStream) Publish(ctx context.Context, topic string, msg []byte) error {
	if !s.covers(topic) {
		return fmt.Errorf("stream %s does not capture subject %s", s.cfg.StreamName, topic)
	}
	if _, err := s.js.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// SubscribeStream consumes every message the durable consumer delivers.
// Failed messages are redelivered with a growing delay until MaxDeliver.
func (s *NATSStream) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	if s.consumer == nil {
		return fmt.Errorf("stream %s has no consumer", s.cfg.StreamName)
	}

	cc, err := s.consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", s.cfg.StreamName, err)
	}

	s.mu.Lock()
	s.consumes = append(s.consumes, cc)
	s.mu.Unlock()
	return nil
}

func (s *NATSStream) handle(ctx context.Context, msg jetstream.Msg, handler events.HandlerFunc) {
	herr := handler(ctx, msg.Data())
	if herr == nil {
		if err := msg.Ack(); err != nil {
			s.logger.Error("cannot ack message", "subject", msg.Subject(), "error", err)
		}
		return
	}

	var delivered uint64 = 1
	if md, err := msg.Metadata(); err == nil {
		delivered = md.NumDelivered
	}

	if s.cfg.MaxDeliver > 0 && delivered >= uint64(s.cfg.MaxDeliver) {
		s.logger.Error("dropping message after repeated failures",
			"subject", msg.Subject(), "deliveries", delivered, "error", herr)
		msg.Term()
		return
	}

	s.logger.Error("stream handler failed, requesting redelivery",
		"subject", msg.Subject(), "deliveries", delivered, "error", herr)
	msg.NakWithDelay(redeliveryDelay(delivered))
}

// Subscribe implements events.Subscriber. The consumer is bound when the
// stream is created, so topic must fall inside its filter.
func (s *NATSStream) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	filter := s.cfg.FilterSubject
	if filter == "" {
		if !s.covers(topic) {
			return fmt.Errorf("stream %s does not capture subject %s", s.cfg.StreamName, topic)
		}
	} else if !subjectMatches(filter, topic) {
		return fmt.Errorf("stream consumer is bound to %s, not %s", filter, topic)
	}
	return s.SubscribeStream(ctx, handler)
}

// Close stops consumers and drains the connection.
func (s *NATSStream) Close() error {
	s.mu.Lock()
	for _, cc := range s.consumes {
		cc.Stop()
	}
	s.consumes = nil
	s.mu.Unlock()
	return s.conn.Drain()
}

func (s *NATSStream) covers(subject string) bool {
	for _, pattern := range s.cfg.Subjects {
		if subjectMatches(pattern, subject) {
			return true
		}
	}
	return false
}

// subjectMatches reports whether subject falls under a NATS subject pattern
// using the "*" (one token) and ">" (rest) wildcards.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

func redeliveryDelay(delivered uint64) time.Duration {
	d := time.Duration(delivered) * time.Second
	if d > maxRedeliveryDelay {
		return maxRedeliveryDelay
	}
	return d
}
