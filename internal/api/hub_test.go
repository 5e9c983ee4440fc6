package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWsServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialWs(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients, have %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	hub, srv := newWsServer(t)
	conn := dialWs(t, srv)
	waitForClients(t, hub, 1)

	require.True(t, hub.Broadcast("run_started", map[string]string{"run_id": "abc"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "run_started", msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc", data["run_id"])
}

func TestHubTracksDisconnects(t *testing.T) {
	hub, srv := newWsServer(t)
	conn := dialWs(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHubStopRejectsBroadcast(t *testing.T) {
	hub, _ := newWsServer(t)
	hub.Stop()

	// Wait for the run loop to acknowledge the stop.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		stopped := hub.stopped
		hub.mu.RUnlock()
		if stopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("hub run loop never stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.False(t, hub.Broadcast("run_finished", nil))
}

func TestHubServeWsAfterStop(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		stopped := hub.stopped
		hub.mu.RUnlock()
		if stopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("hub run loop never stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	hub.ServeWs(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
