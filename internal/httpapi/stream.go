package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"aed_map/core-go/internal/command"
	"aed_map/core-go/internal/session"
)

const (
	streamTypeState   = "state"
	streamTypeCommand = "command"
	streamTypeError   = "error"

	streamSendBuffer   = 16
	streamWriteWait    = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingInterval = 50 * time.Second
	streamMaxMessage   = 4096
)

type streamMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// streamClient is one WebSocket subscriber of a session's state.
type streamClient struct {
	log  zerolog.Logger
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once
}

// handleSessionStream pushes the session state on connect and after every
// change. Clients may send {"type":"command","topic":"recenter"}.
func (h *Handler) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", s.ID()).Msg("websocket upgrade failed")
		return
	}

	c := &streamClient{
		log:  h.log.With().Str("session_id", s.ID()).Logger(),
		conn: conn,
		send: make(chan []byte, streamSendBuffer),
		quit: make(chan struct{}),
	}
	unsubscribe := s.Subscribe(c.pushState)
	c.pushState(s.State())

	go c.writePump(s.Done())
	c.readPump(s)

	unsubscribe()
	c.stop()
}

func (c *streamClient) stop() {
	c.once.Do(func() { close(c.quit) })
}

func (c *streamClient) pushState(st session.State) {
	c.trySend(streamMessage{
		Type:      streamTypeState,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   st,
	})
}

// trySend drops the message when the client is too slow; the next state
// push supersedes it anyway.
func (c *streamClient) trySend(msg streamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal stream message")
		return
	}
	select {
	case c.send <- data:
	case <-c.quit:
	default:
		c.log.Debug().Msg("stream client lagging, dropped state push")
	}
}

func (c *streamClient) readPump(s *session.Session) {
	defer c.conn.Close()

	c.conn.SetReadLimit(streamMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != streamTypeCommand || msg.Topic == "" {
			c.trySend(streamMessage{Type: streamTypeError, Payload: "expected {\"type\":\"command\",\"topic\":...}"})
			continue
		}
		if !command.Known(msg.Topic) {
			c.trySend(streamMessage{Type: streamTypeError, Topic: msg.Topic, Payload: "unknown command topic"})
			continue
		}
		if err := s.Publish(msg.Topic); err != nil {
			c.trySend(streamMessage{Type: streamTypeError, Payload: err.Error()})
			return
		}
	}
}

func (c *streamClient) writePump(sessionDone <-chan struct{}) {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sessionDone:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session unmounted"),
				time.Now().Add(streamWriteWait))
			return
		case <-c.quit:
			return
		}
	}
}
