package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/trackers"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	// maxTrackerSubscriptions caps one socket's subscription set. Requests
	// above the cap are rejected wholesale.
	maxTrackerSubscriptions = 20

	sendBufferSize = 64
)

// Client is one authenticated WebSocket subscriber.
type Client struct {
	hub     *Hub
	store   trackers.Store
	conn    *websocket.Conn
	send    chan ServerMessage
	subject string
	// orgID scopes subscriptions; nil means unscoped.
	orgID  *int64
	logger zerolog.Logger
}

func newClient(hub *Hub, store trackers.Store, conn *websocket.Conn, subject string, orgID *int64, logger zerolog.Logger) *Client {
	return &Client{
		hub:     hub,
		store:   store,
		conn:    conn,
		send:    make(chan ServerMessage, sendBufferSize),
		subject: subject,
		orgID:   orgID,
		logger: logger.With().
			Str("component", "RealtimeClient").
			Str("user", subject).
			Logger(),
	}
}

// start runs the pumps. It returns immediately; the read pump owns cleanup.
func (c *Client) start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.LeaveAll(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Unexpected socket close.")
			}
			return
		}

		switch msg.Type {
		case EventChangeTrackersToListen:
			var payload SubscriptionPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.sendError("malformed subscription request", nil)
				continue
			}
			c.handleSubscription(ctx, payload.TrackerIDs)
		default:
			c.sendError("unknown event type "+msg.Type, nil)
		}
	}
}

// handleSubscription applies a replacement subscription set. Requests over the
// cap are rejected without touching the current set; unknown or out-of-scope
// IDs are reported back while the valid remainder is joined.
func (c *Client) handleSubscription(ctx context.Context, requested []int64) {
	if len(requested) > maxTrackerSubscriptions {
		c.sendError("cannot listen to more than 20 trackers", nil)
		return
	}

	valid, err := c.store.ExistingIDs(ctx, c.orgID, requested)
	if err != nil {
		c.logger.Error().Err(err).Msg("Tracker existence check failed.")
		c.sendError("could not verify trackers", nil)
		return
	}

	validSet := make(map[int64]bool, len(valid))
	for _, id := range valid {
		validSet[id] = true
	}
	var invalid []int64
	for _, id := range requested {
		if !validSet[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		c.sendError("unknown trackers requested", invalid)
	}

	c.hub.SetRooms(c, valid)
	c.logger.Debug().Ints64("tracker_ids", valid).Msg("Subscription set replaced.")
}

func (c *Client) sendError(message string, trackerIDs []int64) {
	event := ServerMessage{
		Type: EventError,
		Data: ErrorPayload{Message: message, TrackerIDs: trackerIDs},
	}
	select {
	case c.send <- event:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
