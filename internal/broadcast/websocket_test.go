package broadcast

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"telegram-sink/internal/topology"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func queuedFilters(p *Pool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return 0
	}
	return len(p.subs[0].sub.(*WSSubscriber).filters)
}

func TestWebsocketSubscriberEndToEnd(t *testing.T) {
	pool := NewPool(Options{})
	srv := httptest.NewServer(NewHandler(pool, WSConfig{}))
	defer srv.Close()
	defer pool.Close()

	conn := dial(t, srv)
	waitFor(t, "subscriber registration", func() bool { return pool.Len() == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"lines":[5]}`)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "filter queued", func() bool { return queuedFilters(pool) == 1 })
	pool.Publish(report(6), topology.PointMeta{})

	pool.Publish(report(6), topology.PointMeta{})
	pool.Publish(report(5), topology.PointMeta{Name: "Postplatz"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []map[string]any
	for len(got) < 2 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (got %d messages)", err, len(got))
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		got = append(got, msg)
	}
	// First publish ran under the match-all filter.
	if got[0]["line"] != float64(6) {
		t.Errorf("first message line = %v, want 6", got[0]["line"])
	}
	if got[1]["line"] != float64(5) || got[1]["name"] != "Postplatz" {
		t.Errorf("second message = %v, want line 5 at Postplatz", got[1])
	}
}

func TestWebsocketSubscriberIgnoresMalformedFilter(t *testing.T) {
	pool := NewPool(Options{})
	srv := httptest.NewServer(NewHandler(pool, WSConfig{}))
	defer srv.Close()
	defer pool.Close()

	conn := dial(t, srv)
	waitFor(t, "subscriber registration", func() bool { return pool.Len() == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	pool.Publish(report(5), topology.PointMeta{})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("subscriber dropped after malformed filter: %v", err)
	}
	if pool.Len() != 1 {
		t.Errorf("pool has %d subscribers, want 1", pool.Len())
	}
}

func TestWebsocketDisconnectRemovesSubscriber(t *testing.T) {
	pool := NewPool(Options{})
	srv := httptest.NewServer(NewHandler(pool, WSConfig{}))
	defer srv.Close()
	defer pool.Close()

	conn := dial(t, srv)
	waitFor(t, "subscriber registration", func() bool { return pool.Len() == 1 })

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, "subscriber removal", func() bool { return pool.Len() == 0 })
}
