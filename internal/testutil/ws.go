package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/exatta/encerramento/internal/websocket"
)

// WsEvent is a decoded websocket envelope.
type WsEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// ConnectWs serves hub on a test server and returns a connected client. It
// waits until the hub has registered the client so no event is missed.
func ConnectWs(t *testing.T, hub *websocket.Hub) *gorillaws.Conn {
	t.Helper()
	before := hub.ClientCount()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("websocket client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

// WaitForEvent reads events until one named name satisfies match (nil
// matches any) and returns it.
func WaitForEvent(t *testing.T, conn *gorillaws.Conn, name string, match func(WsEvent) bool) WsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var ev WsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("Failed waiting for %s event: %v", name, err)
		}
		if ev.Event == name && (match == nil || match(ev)) {
			return ev
		}
	}
}
