package web

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tmagjoy/internal/joystick"
	"tmagjoy/internal/sensortask"
)

func TestBroadcaster_ReplaysLastStatusOnly(t *testing.T) {
	b := NewBroadcaster()
	b.PublishStatus(sensortask.Status{Stage: joystick.StageNeutral})
	b.PublishMenu(sensortask.MenuEvent{Direction: joystick.Up})

	id, ch := b.Subscribe(4)
	defer b.Unsubscribe(id)

	select {
	case f := <-ch:
		if f.Type != FrameStatus || f.Status == nil || f.Status.Stage != joystick.StageNeutral {
			t.Fatalf("replayed frame=%+v", f)
		}
	default:
		t.Fatalf("expected replayed status frame")
	}
	select {
	case f := <-ch:
		t.Fatalf("unexpected second frame %+v", f)
	default:
	}
}

func TestBroadcaster_SlowSubscriberDropsFrames(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	for i := 0; i < 5; i++ {
		b.PublishMenu(sensortask.MenuEvent{Direction: joystick.Left})
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered=%d want 1", got)
	}
}

func TestBroadcaster_CloseEndsSubscriptions(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe(1)
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Close")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", b.Subscribers())
	}
	_, late := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("late subscriber channel open")
	}
	b.PublishStatus(sensortask.Status{})
	b.Close()
}

func TestBroadcaster_NilSafe(t *testing.T) {
	var b *Broadcaster
	b.PublishStatus(sensortask.Status{})
	b.PublishMenu(sensortask.MenuEvent{})
	b.Unsubscribe(0)
	b.Close()
	if b.Subscribers() != 0 {
		t.Fatalf("nil subscribers")
	}
}

func dialStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status=%d", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers=%d want %d", b.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_StatusThenMenu(t *testing.T) {
	b := NewBroadcaster()
	b.PublishStatus(sensortask.Status{Stage: joystick.StageDone, CalibrationValid: true})
	ts := newTestServer(t, Deps{Broadcaster: b})

	conn := dialStream(t, ts.URL)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	st, _ := first["status"].(map[string]any)
	if first["type"] != FrameStatus || st["stage"] != "done" {
		t.Fatalf("first frame=%v", first)
	}

	waitSubscribers(t, b, 1)
	b.PublishMenu(sensortask.MenuEvent{Direction: joystick.DownLeft})

	var second map[string]any
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	menu, _ := second["menu"].(map[string]any)
	if second["type"] != FrameMenu || menu["direction"] != "down_left" {
		t.Fatalf("second frame=%v", second)
	}
}

func TestStream_CloseSendsGoingAway(t *testing.T) {
	b := NewBroadcaster()
	ts := newTestServer(t, Deps{Broadcaster: b})
	conn := dialStream(t, ts.URL)
	waitSubscribers(t, b, 1)

	b.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read err=%v want going-away close", err)
	}
}

func TestStream_ClientDisconnectUnsubscribes(t *testing.T) {
	b := NewBroadcaster()
	ts := newTestServer(t, Deps{Broadcaster: b})
	conn := dialStream(t, ts.URL)
	waitSubscribers(t, b, 1)

	conn.Close()
	waitSubscribers(t, b, 0)
}
