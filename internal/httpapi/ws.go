package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grigolet/memchat/internal/convo"
	"github.com/grigolet/memchat/internal/protocol"
)

const (
	wsReadLimit     = 1 << 20
	wsReadDeadline  = 120 * time.Second
	wsWriteDeadline = 10 * time.Second
)

// handleChatWS serves the websocket message surface. One client_message
// in, one metadata/chunk/done event sequence out. Messages are handled
// sequentially; a new request on the same connection waits for the
// previous stream to finish.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ChatEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.ChatEvents.WithLabelValues("ws_disconnected").Inc()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	writeEvent := func(event any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		return conn.WriteJSON(event)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			if writeEvent(protocol.NewErrorEvent("invalid_client_message", err.Error())) != nil {
				return
			}
			continue
		}

		err = s.engine.SendStream(r.Context(), msg.ChatName, msg.Message, msg.UseFullContext, writeEvent)
		if err != nil {
			code := "internal"
			switch {
			case errors.Is(err, convo.ErrChatNotFound):
				code = "chat_not_found"
			case errors.Is(err, convo.ErrEmptyChatName), errors.Is(err, convo.ErrEmptyMessage):
				code = "invalid_client_message"
			}
			if writeEvent(protocol.NewErrorEvent(code, err.Error())) != nil {
				return
			}
		}
	}
}
