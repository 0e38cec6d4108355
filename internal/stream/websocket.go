package stream

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"option-planner/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and streams hub events to the client as JSON
// text frames. An optional topics query parameter narrows the stream, e.g.
// ?topics=gate_status,plan_submitted.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := h.Subscribe(parseTopics(r.URL.Query().Get("topics"))...)
	metrics.WebSocketClients.Inc()
	h.logger.Debug().Str("subscriber", sub.ID).Msg("WebSocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.Unsubscribe(sub.ID)
		conn.Close()
		metrics.WebSocketClients.Dec()
		h.logger.Debug().Str("subscriber", sub.ID).Msg("WebSocket client disconnected")
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseTopics(raw string) []EventType {
	if raw == "" {
		return nil
	}
	var topics []EventType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			topics = append(topics, EventType(part))
		}
	}
	return topics
}
