package realtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testClient() *Client {
	return &Client{send: make(chan ServerMessage, 4)}
}

func TestHub_SetRoomsReplacesWholesale(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := testClient()

	hub.SetRooms(c, []int64{1, 2, 3})
	assert.ElementsMatch(t, []int64{1, 2, 3}, hub.Rooms(c))

	hub.SetRooms(c, []int64{3, 4})
	assert.ElementsMatch(t, []int64{3, 4}, hub.Rooms(c))
	assert.Zero(t, hub.Subscribers(1))
	assert.Equal(t, 1, hub.Subscribers(4))
}

func TestHub_BroadcastReachesOnlyRoomMembers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	member := testClient()
	other := testClient()
	hub.SetRooms(member, []int64{1})
	hub.SetRooms(other, []int64{2})

	hub.BroadcastPosition(1, ServerMessage{Type: EventPosition})

	select {
	case got := <-member.send:
		assert.Equal(t, EventPosition, got.Type)
	default:
		t.Fatal("room member did not receive the event")
	}
	select {
	case <-other.send:
		t.Fatal("client outside the room received the event")
	default:
	}
}

func TestHub_FullSendBufferDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{send: make(chan ServerMessage)} // no buffer, no reader
	hub.SetRooms(c, []int64{1})

	done := make(chan struct{})
	go func() {
		hub.BroadcastPosition(1, ServerMessage{Type: EventPosition})
		close(done)
	}()
	<-done
}

func TestHub_LeaveAllEmptiesRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := testClient()
	hub.SetRooms(c, []int64{1, 2})

	hub.LeaveAll(c)
	assert.Empty(t, hub.Rooms(c))
	assert.Zero(t, hub.Subscribers(1))
	assert.Zero(t, hub.Subscribers(2))
}
