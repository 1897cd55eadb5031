// Package httpapi exposes the chat engine over HTTP: JSON endpoints,
// an SSE stream, and a websocket transport.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/grigolet/memchat/internal/config"
	"github.com/grigolet/memchat/internal/convo"
	"github.com/grigolet/memchat/internal/observability"
)

type Server struct {
	cfg      config.Config
	engine   *convo.Engine
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, engine *convo.Engine, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so other sites cannot drive a local
				// chat session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"service": "memchat",
			"status":  "ok",
		})
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/chats", s.handleListChats)
	r.Post("/v1/chats", s.handleOpenChat)
	r.Get("/v1/chats/{name}/history", s.handleChatHistory)
	r.Get("/v1/chats/{name}/similarities", s.handleChatSimilarities)
	r.Delete("/v1/chats/{name}", s.handleDeleteChat)

	r.Post("/v1/message", s.handleMessage)
	r.Post("/v1/message/stream", s.handleMessageStream)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondEngineError maps the engine's sentinel errors onto HTTP
// statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, convo.ErrEmptyChatName):
		respondError(w, http.StatusBadRequest, "invalid_chat_name", err.Error())
	case errors.Is(err, convo.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "invalid_message", err.Error())
	case errors.Is(err, convo.ErrChatNotFound):
		respondError(w, http.StatusNotFound, "chat_not_found", err.Error())
	case errors.Is(err, convo.ErrNoSession):
		respondError(w, http.StatusNotFound, "no_session", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
