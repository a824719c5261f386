//go:build integration

package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-trackflow/pkg/relay"
)

func startNatsServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second), "nats server not ready")
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNatsBroker_PublishEndToEnd(t *testing.T) {
	ns := startNatsServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := &relay.NatsBrokerConfig{
		URL:         ns.ClientURL(),
		StreamName:  "TRACKER_EVENTS_TEST",
		SubjectRoot: "tracker_events",
		ClientName:  "broker-test",
	}

	dial := relay.NewNatsDialer(cfg, zerolog.Nop())
	conn, err := dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	// An independent subscriber sees the event on its routing-key subject.
	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	inbox := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("tracker_events.h02.location.>", inbox)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	msg := relay.Message{
		RoutingKey:    "h02.location.863977030925858",
		CorrelationID: "corr-1",
		Body:          []byte(`{"lat":20.46}`),
	}
	require.NoError(t, conn.Publish(ctx, msg))

	select {
	case got := <-inbox:
		assert.Equal(t, "tracker_events.h02.location.863977030925858", got.Subject)
		assert.Equal(t, "corr-1", got.Header.Get("Correlation-Id"))
		assert.JSONEq(t, `{"lat":20.46}`, string(got.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not receive the published event")
	}

	// The durable stream captured the event too.
	jc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer jc.Close()
	js, err := jetstream.New(jc)
	require.NoError(t, err)
	stream, err := js.Stream(ctx, cfg.StreamName)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}

func TestNatsBroker_StreamConfigMismatchIsFatal(t *testing.T) {
	ns := startNatsServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Pre-create the stream with a conflicting subject space.
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "TRACKER_EVENTS_TEST",
		Subjects: []string{"something_else.>"},
		Storage:  jetstream.FileStorage,
	})
	require.NoError(t, err)

	cfg := &relay.NatsBrokerConfig{
		URL:         ns.ClientURL(),
		StreamName:  "TRACKER_EVENTS_TEST",
		SubjectRoot: "tracker_events",
		ClientName:  "broker-test",
	}
	_, err = relay.NewNatsDialer(cfg, zerolog.Nop())(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, relay.ErrFatal)
}
