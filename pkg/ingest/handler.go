// Package ingest accepts raw tracker connections over TCP, decodes their
// frames and hands the resulting events to the broker relay queue.
package ingest

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/h02"
	"github.com/illmade-knight/go-trackflow/pkg/relay"
)

const (
	// readBufferSize bounds a single tracker frame. Devices send short
	// ASCII frames well under this.
	readBufferSize = 512
	// maxInvalidFrames is how many undecodable frames a connection may
	// send before it is dropped as noise.
	maxInvalidFrames = 10
)

// handler owns one tracker connection for its lifetime.
type handler struct {
	conn   net.Conn
	queue  *relay.Queue
	logger zerolog.Logger
}

func newHandler(conn net.Conn, queue *relay.Queue, logger zerolog.Logger) *handler {
	return &handler{
		conn:  conn,
		queue: queue,
		logger: logger.With().
			Str("component", "ConnectionHandler").
			Str("remote_addr", conn.RemoteAddr().String()).
			Logger(),
	}
}

// serve reads frames until the peer disconnects, the frame budget for garbage
// is exhausted, or ctx is cancelled. Responses are written back synchronously
// so they leave in the same order the frames arrived.
func (h *handler) serve(ctx context.Context) {
	defer func() { _ = h.conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = h.conn.Close() })
	defer stop()

	buf := make([]byte, readBufferSize)
	invalid := 0
	for {
		n, err := h.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.logger.Warn().Err(err).Msg("Read failed, closing connection.")
			}
			return
		}

		correlationID := uuid.NewString()
		log := h.logger.With().Str("correlation_id", correlationID).Logger()

		event, err := h02.Decode(buf[:n])
		if err != nil {
			invalid++
			log.Warn().Err(err).Int("invalid_frames", invalid).Msg("Failed to decode frame.")
			if invalid >= maxInvalidFrames {
				log.Warn().Msg("Too many invalid frames, closing connection.")
				return
			}
			continue
		}

		if len(event.Response) > 0 {
			if _, err := h.conn.Write(event.Response); err != nil {
				log.Warn().Err(err).Msg("Failed to write device response, closing connection.")
				return
			}
		}

		body, err := event.Body()
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode event body.")
			continue
		}
		h.queue.Enqueue(relay.Message{
			RoutingKey:    event.RoutingKey(),
			CorrelationID: correlationID,
			Body:          body,
		})
		log.Debug().
			Str("routing_key", event.RoutingKey()).
			Msg("Event queued for relay.")
	}
}
