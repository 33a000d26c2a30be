package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"OpenMCP-ChainManager/internal/events"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents 通过 WebSocket 推送链事件，?events= 可按名称过滤。
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	names := events.All()
	if raw := r.URL.Query().Get("events"); raw != "" {
		names = strings.Split(raw, ",")
	}

	send := make(chan []byte, streamBuffer)
	bus := s.chains.Bus()
	subs := make([]*events.Subscription, 0, len(names))
	for _, name := range names {
		subs = append(subs, bus.On(strings.TrimSpace(name), func(e events.Event) {
			env, err := events.NewEnvelope(e)
			if err != nil {
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				return
			}
			select {
			case send <- payload:
			default:
				s.logger.Warn("WebSocket 客户端过慢，丢弃事件", "event", env.Name, "remote", r.RemoteAddr)
			}
		}))
	}
	defer func() {
		for _, sub := range subs {
			bus.Off(sub)
		}
	}()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket 握手失败", "error", err)
		return
	}

	closed := make(chan struct{})
	go readPump(conn, closed)
	writePump(conn, send, closed)
}

// readPump 丢弃客户端消息，仅用于感知断开与 pong。
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-closed:
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
