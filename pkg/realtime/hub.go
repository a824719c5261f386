package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks which clients listen to which trackers. Rooms are keyed by
// tracker ID; a client is in exactly the rooms of its current subscription
// set.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	rooms   map[int64]map[*Client]bool
	clients map[*Client]map[int64]bool
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "RealtimeHub").Logger(),
		rooms:   make(map[int64]map[*Client]bool),
		clients: make(map[*Client]map[int64]bool),
	}
}

// SetRooms replaces the client's subscription set with trackerIDs in one step.
func (h *Hub) SetRooms(c *Client, trackerIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(c)

	joined := make(map[int64]bool, len(trackerIDs))
	for _, id := range trackerIDs {
		joined[id] = true
		room, ok := h.rooms[id]
		if !ok {
			room = make(map[*Client]bool)
			h.rooms[id] = room
		}
		room[c] = true
	}
	h.clients[c] = joined
}

// LeaveAll removes the client from every room. Called when a socket closes.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveAllLocked(c)
	delete(h.clients, c)
}

func (h *Hub) leaveAllLocked(c *Client) {
	for id := range h.clients[c] {
		room := h.rooms[id]
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
	h.clients[c] = nil
}

// Rooms returns the client's current subscription set.
func (h *Hub) Rooms(c *Client) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int64, 0, len(h.clients[c]))
	for id := range h.clients[c] {
		ids = append(ids, id)
	}
	return ids
}

// Subscribers reports how many clients listen to the tracker.
func (h *Hub) Subscribers(trackerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[trackerID])
}

// BroadcastPosition delivers event to every client in the tracker's room. A
// client whose send buffer is full misses this event rather than stalling the
// router.
func (h *Hub) BroadcastPosition(trackerID int64, event ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[trackerID] {
		select {
		case c.send <- event:
		default:
			h.logger.Warn().Int64("tracker_id", trackerID).
				Msg("Client send buffer full, position event skipped.")
		}
	}
}
