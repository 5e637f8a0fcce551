package eventfeed

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/wakeword/pkg/wakeword"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) wakeword.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wakeword.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func newFeed(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer("", hub, nil, nil).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func TestHubBroadcast(t *testing.T) {
	hub, srv := newFeed(t)
	all := dial(t, srv, "")
	onlyText := dial(t, srv, "?kinds=transcript")
	waitClients(t, hub, 2)

	ctx := context.Background()
	events := []wakeword.Event{
		{ID: "1", Kind: wakeword.EventWake, Score: 0.99, Count: 2},
		{ID: "2", Kind: wakeword.EventDrop, Dropped: 3},
		{ID: "3", Kind: wakeword.EventTranscript, Text: "what time is it"},
	}
	for _, ev := range events {
		if err := hub.HandleEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	// Drop events are not in the default subscription.
	if ev := readEvent(t, all); ev.ID != "1" || ev.Score != 0.99 || ev.Count != 2 {
		t.Errorf("first = %+v", ev)
	}
	if ev := readEvent(t, all); ev.ID != "3" {
		t.Errorf("second = %+v", ev)
	}
	if ev := readEvent(t, onlyText); ev.ID != "3" || ev.Text != "what time is it" {
		t.Errorf("filtered = %+v", ev)
	}
}

func TestHubUnknownKind(t *testing.T) {
	_, srv := newFeed(t)
	resp, err := http.Get(srv.URL + "/events?kinds=wake,bogus")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHubClientDisconnect(t *testing.T) {
	hub, srv := newFeed(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
	if err := hub.HandleEvent(context.Background(), wakeword.Event{Kind: wakeword.EventWake}); err != nil {
		t.Fatal(err)
	}
}

func TestHubClose(t *testing.T) {
	hub, srv := newFeed(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)
	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("err = %v, want going-away close", err)
	}
}

func TestServerRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "wakeword_wake_events_total 1\n")
	})
	srv := httptest.NewServer(NewServer("", NewHub(nil), metrics, nil).Handler())
	defer srv.Close()

	for path, want := range map[string]string{
		"/healthz": "ok",
		"/metrics": "wakeword_wake_events_total",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), want) {
			t.Errorf("%s: %d %q", path, resp.StatusCode, body)
		}
	}
}

func TestServerRun(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(ln.Addr().String(), NewHub(nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(wakeword.Event{ID: "x", Kind: wakeword.EventCommand, Duration: 1500 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"duration_ns":1500000000`) || strings.Contains(string(data), "text") {
		t.Errorf("json = %s", data)
	}
}
