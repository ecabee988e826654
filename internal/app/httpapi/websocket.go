package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/jive-live/jive-server/internal/app/metrics"
	"github.com/jive-live/jive-server/internal/app/services/chat"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// chatSocket subscribes the connection to a chat channel. Every frame the
// client sends is relayed verbatim to all subscribers of that channel,
// including the sender.
func (h *handler) chatSocket(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["channelId"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).WithField("channel_id", channelID).Debug("websocket upgrade failed")
		return
	}

	sub := h.app.ChatHub.Subscribe(channelID)
	metrics.ChatConnectionOpened()
	defer func() {
		h.app.ChatHub.Unsubscribe(sub)
		metrics.ChatConnectionClosed()
		conn.Close()
	}()

	go h.writePump(conn, sub)

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField("channel_id", channelID).Debug("websocket read failed")
			}
			return
		}
		h.app.ChatHub.Broadcast(channelID, payload)
		metrics.RecordChatRelay()
	}
}

// writePump drains the subscription into the connection and keeps it alive
// with pings. It exits when the subscription closes or a write fails.
func (h *handler) writePump(conn *websocket.Conn, sub *chat.Subscription) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
