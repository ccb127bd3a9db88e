package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Benevox/rapidpro/internal/infrastructure"
	"github.com/Benevox/rapidpro/internal/shared/testutil"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger, nil)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func register(t *testing.T, hub *Hub, orgID string) (*Client, *mockConnection) {
	t.Helper()
	conn := newMockConnection()
	client := NewClient(hub, conn, orgID, "", nil)
	before := hub.ClientCount()
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return client, conn
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func assertNoMessage(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected message %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubStartStop(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Start()
	hub.Start()

	client, _ := register(t, hub, "org-1")
	receive(t, client)

	hub.Stop()
	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	_, ok := <-client.send
	assert.False(t, ok, "stop closes client queues")

	err := hub.Broadcast(context.Background(), "", TypeExportFinished, "", nil)
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestHubGreetsClient(t *testing.T) {
	hub := startHub(t)
	client, _ := register(t, hub, "org-1")

	msg := receive(t, client)
	assert.Equal(t, TypeConnection, msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "connected", data["status"])
	assert.Equal(t, client.ID(), data["client_id"])
	assert.Equal(t, "org-1", data["org_id"])
}

func TestHubBroadcastByOrg(t *testing.T) {
	hub := startHub(t)
	first, _ := register(t, hub, "org-1")
	second, _ := register(t, hub, "org-2")
	receive(t, first)
	receive(t, second)

	ctx := infrastructure.WithTraceID(context.Background(), "trace-1")
	require.NoError(t, hub.Broadcast(ctx, "org-1", TypeExportFinished, "export:job-1", map[string]string{"id": "job-1"}))

	msg := receive(t, first)
	assert.Equal(t, TypeExportFinished, msg.Type)
	assert.Equal(t, "export:job-1", msg.Scope)
	assert.Equal(t, "trace-1", msg.TraceID)
	assertNoMessage(t, second)

	require.NoError(t, hub.Broadcast(context.Background(), "", "notice", "", "all"))
	assert.Equal(t, "notice", receive(t, first).Type)
	assert.Equal(t, "notice", receive(t, second).Type)

	snapshot := hub.Metrics().Snapshot()
	assert.Equal(t, int64(2), snapshot["active_connections"])
	assert.Equal(t, int64(3), snapshot["messages_sent"])
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub := startHub(t)
	slow := NewClient(hub, newMockConnection(), "org-1", "", nil)
	slow.send = make(chan []byte)
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Broadcast(context.Background(), "org-1", TypeExportFinished, "", nil))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), hub.Metrics().Snapshot()["dropped_messages"])
}

func TestHubBroadcastRejectsUnencodable(t *testing.T) {
	hub := startHub(t)
	err := hub.Broadcast(context.Background(), "", TypeExportFinished, "", func() {})
	assert.Error(t, err)
}

func TestClientPumps(t *testing.T) {
	hub := startHub(t)
	client, conn := register(t, hub, "org-1")

	go client.WritePump()
	go client.ReadPump()

	require.NoError(t, hub.Broadcast(context.Background(), "org-1", TypeExportFinished, "export:1", nil))
	require.Eventually(t, func() bool { return len(conn.textMessages()) == 2 }, time.Second, 5*time.Millisecond)

	var msg Message
	require.NoError(t, json.Unmarshal(conn.textMessages()[1], &msg))
	assert.Equal(t, "export:1", msg.Scope)

	conn.incoming <- heartbeat
	require.Eventually(t, func() bool {
		return hub.Metrics().Snapshot()["messages_received"] == 1
	}, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, int64(maxMessageSize), conn.readLimit)
}

func TestNewMetricsWithMeter(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordConnection(ctx)
	metrics.RecordSent(ctx, 10)
	metrics.RecordDisconnection(ctx, time.Second)
	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(1), snapshot["total_connections"])
	assert.Equal(t, int64(0), snapshot["active_connections"])
	assert.Equal(t, int64(10), snapshot["bytes_sent"])
}

func TestHandler(t *testing.T) {
	hub := startHub(t)
	handler := NewHandler(hub, HandlerConfig{AllowedOrigins: []string{"http://app.test"}}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + OrgParam + "=org-1"

	t.Run("delivers org messages", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://app.test"}}
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer conn.Close()

		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, TypeConnection, msg.Type)

		require.NoError(t, hub.Broadcast(context.Background(), "org-1", TypeExportFinished, "export:7", map[string]string{"id": "7"}))
		conn.SetReadDeadline(time.Now().Add(time.Second))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, TypeExportFinished, msg.Type)
		assert.Equal(t, "export:7", msg.Scope)
	})

	t.Run("rejects foreign origin", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://evil.test"}}
		_, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
