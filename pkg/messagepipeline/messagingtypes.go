package messagepipeline

import (
	"time"
)

// Message is the canonical representation of one broker delivery flowing
// through a pipeline. It pairs the payload with broker metadata and the
// acknowledgment handles of the source.
type Message struct {
	MessageData

	// Attributes holds metadata from the message broker. For NATS
	// deliveries this includes the subject, the routing key derived from
	// it, and any correlation headers the publisher attached.
	Attributes map[string]string

	// Ack signals that processing succeeded and the message can be
	// removed from the source. Sources with automatic acknowledgement
	// supply a no-op.
	Ack func()

	// Nack signals that processing failed and the message should be
	// re-queued or dead-lettered, where the source supports it.
	Nack func()
}

// MessageData holds the payload of a message independent of any broker.
type MessageData struct {
	// ID uniquely identifies the message. Publishers that stamp a
	// correlation ID reuse it here so a position can be traced from the
	// device socket through the broker to the fan-out.
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is when the message was originally published.
	PublishTime time.Time `json:"publishTime"`
}
