package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newHubServer(t *testing.T, hub *Hub, runID string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go hub.Serve(runID, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub, "r1")
	conn := dial(t, srv)

	waitFor(t, func() bool { return hub.Watchers("r1") == 1 })

	hub.Broadcast("r1", Message{Type: MsgStepUpdate, RunID: "r1", Step: "ranking"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Type != MsgStepUpdate || got.Step != "ranking" {
		t.Errorf("message = %+v", got)
	}
}

func TestHubPingPong(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub, "r1")
	conn := dial(t, srv)

	waitFor(t, func() bool { return hub.Watchers("r1") == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Type != MsgPong {
		t.Errorf("message = %+v", got)
	}
}

func TestHubReapsDeadConnections(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub, "r1")
	conn := dial(t, srv)

	waitFor(t, func() bool { return hub.Watchers("r1") == 1 })
	conn.Close()

	// The server side notices on its read loop; give the reap a broadcast
	// nudge as well and wait for the watcher count to drop.
	waitFor(t, func() bool {
		hub.Broadcast("r1", Message{Type: MsgStepUpdate, RunID: "r1"})
		return hub.Watchers("r1") == 0
	})
}

func TestBridgeForwardsBusEvents(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub, "r1")
	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Watchers("r1") == 1 })

	bus := NewBus(nil)
	defer bus.Close()
	bus.Subscribe(Bridge(hub))

	bus.Emit(Event{Kind: CheckpointReached, RunID: "r1", Step: "select_problem"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Type != MsgCheckpoint || got.RunID != "r1" || got.Step != "select_problem" {
		t.Errorf("message = %+v", got)
	}
}
