package ingest_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-trackflow/pkg/ingest"
	"github.com/illmade-knight/go-trackflow/pkg/relay"
)

const locationFrame = "*HQ,863977030925858,V1,120000,A,2027.93290,N,04512.34560,W,010.5,090,281123,00000000#"

func startServer(t *testing.T) (*relay.Queue, net.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	queue := relay.NewQueue()
	srv := ingest.NewServer(&ingest.ServerConfig{ListenAddr: "127.0.0.1:0"}, queue, zerolog.Nop())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		require.NoError(t, srv.Stop(stopCtx))
		queue.Close()
	})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return queue, conn
}

func receive(t *testing.T, queue *relay.Queue) relay.Message {
	t.Helper()
	select {
	case m, ok := <-queue.Dequeue():
		require.True(t, ok, "queue closed before a message arrived")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message reached the relay queue")
		return relay.Message{}
	}
}

func TestServer_LocationFrameReachesRelay(t *testing.T) {
	queue, conn := startServer(t)

	_, err := conn.Write([]byte(locationFrame))
	require.NoError(t, err)

	m := receive(t, queue)
	assert.Equal(t, "h02.location.863977030925858", m.RoutingKey)
	assert.NotEmpty(t, m.CorrelationID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(m.Body, &payload))
	assert.InDelta(t, 20.465548, payload["lat"].(float64), 1e-6)
	assert.InDelta(t, -45.205760, payload["lng"].(float64), 1e-6)
}

func TestServer_HeartbeatFrameReachesRelay(t *testing.T) {
	queue, conn := startServer(t)

	_, err := conn.Write([]byte("*HQ,863977030925858,HTBT#"))
	require.NoError(t, err)

	m := receive(t, queue)
	assert.Equal(t, "h02.heartbeat.863977030925858", m.RoutingKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(m.Body, &payload))
	assert.Equal(t, "863977030925858", payload["imei"])
}

func TestServer_FrameOrderPreservedPerConnection(t *testing.T) {
	queue, conn := startServer(t)

	_, err := conn.Write([]byte("*HQ,1,HTBT#"))
	require.NoError(t, err)
	first := receive(t, queue)
	_, err = conn.Write([]byte("*HQ,2,HTBT#"))
	require.NoError(t, err)
	second := receive(t, queue)

	assert.Equal(t, "h02.heartbeat.1", first.RoutingKey)
	assert.Equal(t, "h02.heartbeat.2", second.RoutingKey)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
}

func TestServer_DropsConnectionAfterTooManyInvalidFrames(t *testing.T) {
	_, conn := startServer(t)

	for i := 0; i < 10; i++ {
		_, err := conn.Write([]byte("garbage with no frame markers"))
		if err != nil {
			break // server may already have hung up
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server should close the connection")
}

func TestServer_SurvivesInvalidFramesBelowTheLimit(t *testing.T) {
	queue, conn := startServer(t)

	for i := 0; i < 9; i++ {
		_, err := conn.Write([]byte("garbage with no frame markers"))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	_, err := conn.Write([]byte(locationFrame))
	require.NoError(t, err)

	m := receive(t, queue)
	assert.Equal(t, "h02.location.863977030925858", m.RoutingKey)
}

func TestServer_PeerDisconnectIsClean(t *testing.T) {
	queue, conn := startServer(t)

	_, err := conn.Write([]byte("*HQ,863977030925858,HTBT#"))
	require.NoError(t, err)
	receive(t, queue)
	require.NoError(t, conn.Close())
	// Server-side cleanup is asserted by Stop in the test cleanup not
	// timing out on a leaked handler.
}
