package realtime

import "time"

// NewTestClient returns a client without a socket behind it. Events broadcast
// to its rooms land in an internal buffer read with Receive. For tests.
func NewTestClient(buffer int) *Client {
	return &Client{send: make(chan ServerMessage, buffer)}
}

// Receive waits up to timeout for the next buffered event.
func (c *Client) Receive(timeout time.Duration) (ServerMessage, bool) {
	select {
	case event, ok := <-c.send:
		return event, ok
	case <-time.After(timeout):
		return ServerMessage{}, false
	}
}
