//go:build integration

package messagepipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-trackflow/pkg/messagepipeline"
)

func startNatsServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:  "127.0.0.1",
		Port:  -1,
		NoLog: true,
	})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second), "nats server not ready")
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNatsConsumer_ReceivesWildcardDeliveries(t *testing.T) {
	ns := startNatsServer(t)

	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer conn.Close()

	consumer, err := messagepipeline.NewNatsConsumer(
		messagepipeline.NewNatsConsumerDefaults("tracker_events"), conn, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	defer func() { _ = consumer.Stop(ctx) }()

	pub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	msg := nats.NewMsg("tracker_events.h02.location.863977030925858")
	msg.Header.Set(messagepipeline.CorrelationIDHeader, "corr-42")
	msg.Data = []byte(`{"lat":1}`)
	require.NoError(t, pub.PublishMsg(msg))
	require.NoError(t, pub.Flush())

	select {
	case got := <-consumer.Messages():
		assert.Equal(t, "corr-42", got.ID)
		assert.Equal(t, "h02.location.863977030925858", got.Attributes["routing_key"])
		assert.Equal(t, "tracker_events.h02.location.863977030925858", got.Attributes["subject"])
		assert.JSONEq(t, `{"lat":1}`, string(got.Payload))
		got.Ack() // no-op, must not panic
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not deliver the published event")
	}

	// Subjects outside the root are not delivered.
	require.NoError(t, pub.Publish("other_root.h02.location.1", []byte(`{}`)))
	require.NoError(t, pub.Flush())
	select {
	case got := <-consumer.Messages():
		t.Fatalf("unexpected delivery from foreign subject: %q", got.Attributes["subject"])
	case <-time.After(300 * time.Millisecond):
	}
}

func TestNatsConsumer_QueueGroupSplitsDeliveries(t *testing.T) {
	ns := startNatsServer(t)

	newGroupConsumer := func() *messagepipeline.NatsConsumer {
		conn, err := nats.Connect(ns.ClientURL())
		require.NoError(t, err)
		t.Cleanup(conn.Close)
		cfg := messagepipeline.NewNatsConsumerDefaults("tracker_events")
		cfg.QueueGroup = "tracking"
		consumer, err := messagepipeline.NewNatsConsumer(cfg, conn, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, consumer.Start(context.Background()))
		t.Cleanup(func() { _ = consumer.Stop(context.Background()) })
		return consumer
	}
	first := newGroupConsumer()
	second := newGroupConsumer()

	pub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, pub.Publish("tracker_events.h02.heartbeat.1", []byte(`{}`)))
	}
	require.NoError(t, pub.Flush())

	received := 0
	deadline := time.After(5 * time.Second)
	for received < total {
		select {
		case <-first.Messages():
			received++
		case <-second.Messages():
			received++
		case <-deadline:
			t.Fatalf("only %d of %d deliveries arrived", received, total)
		}
	}
}
