package messagepipeline_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-trackflow/pkg/messagepipeline"
)

type stubConsumer struct {
	messages chan messagepipeline.Message
	done     chan struct{}
	stopOnce sync.Once
}

func newStubConsumer() *stubConsumer {
	return &stubConsumer{
		messages: make(chan messagepipeline.Message, 32),
		done:     make(chan struct{}),
	}
}

func (s *stubConsumer) Messages() <-chan messagepipeline.Message { return s.messages }
func (s *stubConsumer) Start(_ context.Context) error           { return nil }
func (s *stubConsumer) Stop(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.messages)
		close(s.done)
	})
	return nil
}
func (s *stubConsumer) Done() <-chan struct{} { return s.done }

type testPayload struct {
	Value string
}

func testMessage(id string, acked, nacked *atomic.Int32) messagepipeline.Message {
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: []byte(id)},
		Attributes:  map[string]string{},
		Ack:         func() { acked.Add(1) },
		Nack:        func() { nacked.Add(1) },
	}
}

func TestStreamingService_ProcessesAndAcks(t *testing.T) {
	consumer := newStubConsumer()
	var acked, nacked atomic.Int32
	var processed atomic.Int32

	transformer := func(_ context.Context, msg *messagepipeline.Message) (*testPayload, bool, error) {
		return &testPayload{Value: string(msg.Payload)}, false, nil
	}
	processor := func(_ context.Context, _ messagepipeline.Message, payload *testPayload) error {
		require.NotEmpty(t, payload.Value)
		processed.Add(1)
		return nil
	}

	svc, err := messagepipeline.NewStreamingService[testPayload](
		messagepipeline.StreamingServiceConfig{NumWorkers: 3},
		consumer, transformer, processor, zerolog.Nop(),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	const total = 20
	for i := 0; i < total; i++ {
		consumer.messages <- testMessage("msg-"+strconv.Itoa(i), &acked, &nacked)
	}

	require.Eventually(t, func() bool {
		return processed.Load() == total
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))

	assert.Equal(t, int32(total), acked.Load())
	assert.Zero(t, nacked.Load())
}

func TestStreamingService_SkipAcksWithoutProcessing(t *testing.T) {
	consumer := newStubConsumer()
	var acked, nacked atomic.Int32

	transformer := func(_ context.Context, _ *messagepipeline.Message) (*testPayload, bool, error) {
		return nil, true, nil
	}
	processor := func(_ context.Context, _ messagepipeline.Message, _ *testPayload) error {
		t.Error("processor must not run for skipped messages")
		return nil
	}

	svc, err := messagepipeline.NewStreamingService[testPayload](
		messagepipeline.StreamingServiceConfig{NumWorkers: 1},
		consumer, transformer, processor, zerolog.Nop(),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	consumer.messages <- testMessage("skipped", &acked, &nacked)

	require.Eventually(t, func() bool {
		return acked.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, nacked.Load())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
}

func TestStreamingService_ErrorsNack(t *testing.T) {
	consumer := newStubConsumer()
	var acked, nacked atomic.Int32

	transformer := func(_ context.Context, msg *messagepipeline.Message) (*testPayload, bool, error) {
		if msg.ID == "bad-transform" {
			return nil, false, errors.New("unparsable")
		}
		return &testPayload{Value: msg.ID}, false, nil
	}
	processor := func(_ context.Context, _ messagepipeline.Message, payload *testPayload) error {
		if payload.Value == "bad-process" {
			return errors.New("sink down")
		}
		return nil
	}

	svc, err := messagepipeline.NewStreamingService[testPayload](
		messagepipeline.StreamingServiceConfig{NumWorkers: 1},
		consumer, transformer, processor, zerolog.Nop(),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	consumer.messages <- testMessage("bad-transform", &acked, &nacked)
	consumer.messages <- testMessage("bad-process", &acked, &nacked)
	consumer.messages <- testMessage("good", &acked, &nacked)

	require.Eventually(t, func() bool {
		return acked.Load() == 1 && nacked.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
}

func TestNewStreamingService_Validation(t *testing.T) {
	consumer := newStubConsumer()
	transformer := func(_ context.Context, _ *messagepipeline.Message) (*testPayload, bool, error) {
		return nil, true, nil
	}
	processor := func(_ context.Context, _ messagepipeline.Message, _ *testPayload) error { return nil }

	_, err := messagepipeline.NewStreamingService[testPayload](
		messagepipeline.StreamingServiceConfig{}, nil, transformer, processor, zerolog.Nop())
	assert.Error(t, err)

	_, err = messagepipeline.NewStreamingService[testPayload](
		messagepipeline.StreamingServiceConfig{}, consumer, nil, processor, zerolog.Nop())
	assert.Error(t, err)

	_, err = messagepipeline.NewStreamingService[testPayload](
		messagepipeline.StreamingServiceConfig{}, consumer, transformer, nil, zerolog.Nop())
	assert.Error(t, err)
}
