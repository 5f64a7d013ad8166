package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsgo/dispatch/core/events"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/relay"
	"github.com/emsgo/dispatch/internal/topicbus"
)

func newTestHub(t *testing.T) (*Hub, *relay.Relay, *httptest.Server) {
	t.Helper()
	rel, err := relay.New(topicbus.New(), nil)
	require.NoError(t, err)
	hub := NewHub(rel, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, rel, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env relay.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_DeliversDispatchCenterByDefault(t *testing.T) {
	hub, rel, srv := newTestHub(t)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	rel.Publish(relay.EventDispatchStatusChanged, events.DispatchStatusChanged{
		DispatchID: "d1", NewStatus: model.DispatchDispatched,
	}, relay.TopicDispatchCenter)

	env := readEnvelope(t, conn)
	assert.Equal(t, relay.EventDispatchStatusChanged, env.Type)
	assert.Equal(t, relay.TopicDispatchCenter, env.Topic)
}

func TestHub_TopicScoping(t *testing.T) {
	hub, rel, srv := newTestHub(t)
	conn := dial(t, srv, "?topics=vehicle:v1")
	waitForClients(t, hub, 1)

	// An event for another vehicle must not reach this client.
	rel.Publish(relay.EventLocationUpdate, events.LocationUpdate{VehicleID: "v2"}, relay.VehicleTopic("v2"))
	rel.Publish(relay.EventLocationUpdate, events.LocationUpdate{VehicleID: "v1"}, relay.VehicleTopic("v1"))

	env := readEnvelope(t, conn)
	assert.Equal(t, "vehicle:v1", env.Topic)

	payload, err := json.Marshal(env.Payload)
	require.NoError(t, err)
	var lu events.LocationUpdate
	require.NoError(t, json.Unmarshal(payload, &lu))
	assert.Equal(t, "v1", lu.VehicleID)
}

func TestHub_MultipleTopics(t *testing.T) {
	hub, rel, srv := newTestHub(t)
	conn := dial(t, srv, "?topics=dispatch_center,facility:f1")
	waitForClients(t, hub, 1)

	rel.Publish(relay.EventCapacityAlert, events.CapacityAlert{FacilityID: "f1"}, relay.FacilityTopic("f1"))
	env := readEnvelope(t, conn)
	assert.Equal(t, "facility:f1", env.Topic)
}

func TestHub_ClientCountDropsOnDisconnect(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not dropped, count %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
