package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrConnectionLost marks publish failures caused by the broker connection
// itself. The relay drops the current connection and redials on these; any
// other publish error is logged and the event is dropped.
var ErrConnectionLost = errors.New("relay: broker connection lost")

// ErrFatal marks dial failures that retrying cannot fix, such as an existing
// stream whose configuration conflicts with ours. Run returns them to the
// caller instead of backing off.
var ErrFatal = errors.New("relay: unrecoverable broker setup failure")

// Broker is one live connection to the message broker.
type Broker interface {
	// Publish sends a single event. Errors wrapping ErrConnectionLost
	// invalidate the connection.
	Publish(ctx context.Context, m Message) error
	Close()
}

// Dialer establishes a broker connection and performs any one-time topology
// setup. Errors wrapping ErrFatal abort the relay.
type Dialer func(ctx context.Context) (Broker, error)

// Relay drains a queue into the broker. It owns reconnection; producers only
// ever see the queue.
type Relay struct {
	dial   Dialer
	queue  *Queue
	logger zerolog.Logger
}

// NewRelay creates a relay reading from queue. Run must be called to start it.
func NewRelay(dial Dialer, queue *Queue, logger zerolog.Logger) *Relay {
	return &Relay{
		dial:   dial,
		queue:  queue,
		logger: logger.With().Str("component", "Relay").Logger(),
	}
}

// Run connects and publishes until the queue is closed and drained, or until
// ctx is cancelled. It returns nil on clean shutdown and an error only for
// fatal dial failures.
func (r *Relay) Run(ctx context.Context) error {
	for {
		conn, err := r.connect(ctx)
		if err != nil {
			return err
		}
		if conn == nil {
			return nil // ctx cancelled while dialling
		}

		done, err := r.publishLoop(ctx, conn)
		conn.Close()
		if done {
			return err
		}
	}
}

// connect dials with exponential backoff. A nil, nil return means ctx was
// cancelled.
func (r *Relay) connect(ctx context.Context) (Broker, error) {
	for attempt := 0; ; attempt++ {
		conn, err := r.dial(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info().Int("attempts", attempt+1).Msg("Broker connection restored.")
			}
			return conn, nil
		}
		if errors.Is(err, ErrFatal) {
			return nil, err
		}

		wait := Backoff(attempt)
		r.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Broker connection failed, backing off.")
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(wait):
		}
	}
}

// publishLoop drains the queue into conn. It reports done=true when the relay
// should stop (queue drained or ctx cancelled) and done=false when the
// connection was lost and a redial is needed.
func (r *Relay) publishLoop(ctx context.Context, conn Broker) (done bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case m, ok := <-r.queue.Dequeue():
			if !ok {
				return true, nil
			}
			pubErr := conn.Publish(ctx, m)
			if pubErr == nil {
				continue
			}
			if errors.Is(pubErr, ErrConnectionLost) {
				r.logger.Warn().Err(pubErr).
					Str("correlation_id", m.CorrelationID).
					Msg("Broker connection lost mid-publish, event dropped, reconnecting.")
				return false, nil
			}
			r.logger.Error().Err(pubErr).
				Str("routing_key", m.RoutingKey).
				Str("correlation_id", m.CorrelationID).
				Msg("Failed to publish event, dropped.")
		}
	}
}
