package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"terraguard/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// non-browser clients send no Origin
			return origin == "" || originAllowed(allowedOrigins, origin)
		},
	}
}

// HandleWS serves the live step feed over a WebSocket. Each text message
// is one event envelope; the first is the current state.
func (h *Handlers) HandleWS(hub *events.Hub, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("websocket upgrade failed")
			return
		}

		sub := hub.Subscribe()
		if sub == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "event feed unavailable"),
				time.Now().Add(wsWriteWait))
			_ = conn.Close()
			return
		}

		initial, err := encodeEvent(events.KindState, h.sim.Status())
		if err != nil {
			hub.Unsubscribe(sub)
			_ = conn.Close()
			return
		}

		closed := make(chan struct{})
		go readPump(conn, closed)
		writePump(conn, sub, initial, closed)
		hub.Unsubscribe(sub)
	}
}

// readPump discards client messages and signals when the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *events.Subscriber, initial []byte, closed <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(kind int, msg []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(kind, msg)
	}

	if err := write(websocket.TextMessage, initial); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case msg, ok := <-sub.C:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := write(websocket.TextMessage, msg.Payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
