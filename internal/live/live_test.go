package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/model"
)

func TestMessageFor(t *testing.T) {
	m := MessageFor(model.StationChange{StationID: 3, Availability: model.Availability{Total: 8, Available: 0}})
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"availability","stationId":3,"available":0,"total":8}` {
		t.Fatalf("unexpected frame %s", b)
	}
	b, _ = json.Marshal(MessageFor(model.StationChange{StationID: 3, Deleted: true}))
	if string(b) != `{"type":"deleted","stationId":3}` {
		t.Fatalf("unexpected frame %s", b)
	}
}

func TestHubBroadcastsChanges(t *testing.T) {
	hub := NewHub(time.Second, nil, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.StationChanged(context.Background(), model.StationChange{StationID: 7, Availability: model.Availability{Total: 4, Available: 2}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != TypeAvailability || msg.StationID != 7 || msg.Available == nil || *msg.Available != 2 {
		t.Fatalf("unexpected message %+v", msg)
	}

	hub.Shutdown()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close frame, got %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed on shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(time.Second, func(o string) bool { return o == "http://localhost:5173" }, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake to fail for a foreign origin")
	}
}
