package messagepipeline

import (
	"context"
)

// MessageConsumer is a source of messages for a pipeline, such as a NATS
// subscription. It fetches deliveries and hands them to pipeline workers.
type MessageConsumer interface {
	// Messages returns the read-only channel workers receive from.
	Messages() <-chan Message
	// Start begins consumption.
	Start(ctx context.Context) error
	// Stop gracefully ceases consumption and waits for background work.
	Stop(ctx context.Context) error
	// Done is closed once the consumer has completely shut down.
	Done() <-chan struct{}
}

// MessageTransformer turns a raw Message into a structured payload of type T.
//
// Returning skip=true acknowledges the message and drops it from the
// pipeline without error; this is the path for deliveries that are
// malformed, unresolvable or simply not for us. The transformer populates
// the payload struct only; serialization is the publisher's concern.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// StreamProcessor handles transformed payloads one at a time. An error
// causes the pipeline to Nack the original message.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error
