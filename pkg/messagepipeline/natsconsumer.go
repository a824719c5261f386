package messagepipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NatsConsumerConfig holds configuration for the NATS consumer.
type NatsConsumerConfig struct {
	// SubjectRoot is the subject space the tracker event exchange lives
	// under. The consumer binds a wildcard subscription over it.
	SubjectRoot string

	// QueueGroup optionally spreads deliveries across consumer instances.
	QueueGroup string

	// BufferSize is the capacity of the output channel.
	BufferSize int
}

// NewNatsConsumerDefaults provides a config with sensible defaults.
func NewNatsConsumerDefaults(subjectRoot string) *NatsConsumerConfig {
	return &NatsConsumerConfig{
		SubjectRoot: subjectRoot,
		BufferSize:  1000,
	}
}

// NatsConsumer implements MessageConsumer over a core NATS wildcard
// subscription.
//
// Core NATS delivers each message at most once and never redelivers, so Ack
// and Nack on produced Messages are no-ops.
type NatsConsumer struct {
	conn       *nats.Conn
	cfg        *NatsConsumerConfig
	sub        *nats.Subscription
	logger     zerolog.Logger
	outputChan chan Message
	doneChan   chan struct{}
	stopOnce   sync.Once

	// mu fences the output channel against callbacks still running while
	// Stop closes it.
	mu      sync.RWMutex
	stopped bool
}

// NewNatsConsumer creates a new NatsConsumer. It does not subscribe until
// Start is called. The connection's lifecycle is managed by the caller.
func NewNatsConsumer(cfg *NatsConsumerConfig, conn *nats.Conn, logger zerolog.Logger) (*NatsConsumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if cfg.SubjectRoot == "" {
		return nil, fmt.Errorf("subject root is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	return &NatsConsumer{
		conn:       conn,
		cfg:        cfg,
		logger:     logger.With().Str("component", "NatsConsumer").Str("subject_root", cfg.SubjectRoot).Logger(),
		outputChan: make(chan Message, cfg.BufferSize),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the read-only channel deliveries are consumed from.
func (c *NatsConsumer) Messages() <-chan Message {
	return c.outputChan
}

// Start binds the wildcard subscription and begins converting deliveries.
func (c *NatsConsumer) Start(ctx context.Context) error {
	subject := WildcardSubject(c.cfg.SubjectRoot)

	var err error
	handler := c.handleIncomingMessage()
	if c.cfg.QueueGroup != "" {
		c.sub, err = c.conn.QueueSubscribe(subject, c.cfg.QueueGroup, handler)
	} else {
		c.sub, err = c.conn.Subscribe(subject, handler)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.logger.Info().Str("subject", subject).Msg("Listening for tracker events.")

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop unsubscribes and closes the output channel.
func (c *NatsConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping NatsConsumer...")
		if c.sub != nil {
			if err := c.sub.Unsubscribe(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to unsubscribe from tracker events subject.")
			}
		}
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.outputChan)
		close(c.doneChan)
	})
	return nil
}

// Done is closed when the consumer has fully stopped.
func (c *NatsConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// handleIncomingMessage converts one NATS delivery to the pipeline format.
func (c *NatsConsumer) handleIncomingMessage() nats.MsgHandler {
	return func(msg *nats.Msg) {
		attributes := map[string]string{"subject": msg.Subject}
		if key, ok := RoutingKeyFromSubject(c.cfg.SubjectRoot, msg.Subject); ok {
			attributes["routing_key"] = key
		}

		id := msg.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = msg.Subject + "/" + time.Now().UTC().Format(time.RFC3339Nano)
		}

		payloadCopy := make([]byte, len(msg.Data))
		copy(payloadCopy, msg.Data)

		consumed := Message{
			MessageData: MessageData{
				ID:          id,
				Payload:     payloadCopy,
				PublishTime: time.Now().UTC(),
			},
			Attributes: attributes,
			// Core NATS acknowledges at the protocol level; nothing
			// further is needed from the pipeline.
			Ack:  func() {},
			Nack: func() {},
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.stopped {
			return
		}

		// Never block the NATS callback: a full buffer means the
		// pipeline is behind, and tracker events are perishable.
		select {
		case c.outputChan <- consumed:
		default:
			c.logger.Warn().Str("subject", msg.Subject).Msg("Consumer buffer full, dropping delivery.")
		}
	}
}
