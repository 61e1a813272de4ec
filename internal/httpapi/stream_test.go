package httpapi

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/geo"
	"aed_map/core-go/internal/session"
)

type stateMessage struct {
	Type    string        `json:"type"`
	Payload session.State `json:"payload"`
}

func dialStream(t *testing.T, env *testEnv, id string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads state pushes until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(session.State) bool) session.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg stateMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if msg.Type == "state" && match(msg.Payload) {
			return msg.Payload
		}
	}
}

func TestStream_PushesStateAndAcceptsRecenter(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.sessions.Create(catalog.FilterAll, geo.Size{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	conn := dialStream(t, env, s.ID())

	initial := readUntil(t, conn, func(st session.State) bool { return st.ID == s.ID() })
	if initial.Phase != "ready" {
		t.Fatalf("unexpected initial state %+v", initial)
	}

	if _, err := s.Select("dev-a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	readUntil(t, conn, func(st session.State) bool { return st.Selected != nil && st.Selected.ID == "dev-a" })

	if err := conn.WriteJSON(map[string]string{"type": "command", "topic": "recenter"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	st := readUntil(t, conn, func(st session.State) bool { return st.Selected == nil })
	if st.Viewport.Bounds != belgium {
		t.Fatalf("expected region view after recenter, got %+v", st.Viewport.Bounds)
	}
}

func TestStream_RejectsUnknownCommand(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.sessions.Create(catalog.FilterAll, geo.Size{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := s.Select("dev-a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	conn := dialStream(t, env, s.ID())
	readUntil(t, conn, func(session.State) bool { return true })

	if err := conn.WriteJSON(map[string]string{"type": "command", "topic": "zoom_out"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg struct {
			Type    string `json:"type"`
			Topic   string `json:"topic"`
			Payload any    `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if msg.Type != "error" {
			continue
		}
		if msg.Topic != "zoom_out" || msg.Payload != "unknown command topic" {
			t.Fatalf("unexpected error frame %+v", msg)
		}
		break
	}
	if st := s.State(); st.Selected == nil || st.Selected.ID != "dev-a" {
		t.Fatalf("unknown command must not change the session, got %+v", st.Selected)
	}
}

func TestStream_ClosesWhenSessionDeleted(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.sessions.Create(catalog.FilterAll, geo.Size{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	conn := dialStream(t, env, s.ID())
	readUntil(t, conn, func(session.State) bool { return true })

	if err := env.sessions.Delete(s.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
			t.Fatalf("expected normal closure, got %v", err)
		}
		return
	}
}

func TestStream_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/api/v1/sessions/missing/ws", "")
	if rr.Code != 404 {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
