package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grigolet/memchat/internal/turn"
)

type chatSummary struct {
	Name         string    `json:"name"`
	Namespace    string    `json:"namespace"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	MessageCount int       `json:"message_count"`
}

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request) {
	infos := s.engine.ListChats()
	chats := make([]chatSummary, 0, len(infos))
	for name, info := range infos {
		chats = append(chats, chatSummary{
			Name:         name,
			Namespace:    info.Namespace,
			CreatedAt:    info.CreatedAt,
			LastAccessed: info.LastAccessed,
			MessageCount: info.MessageCount,
		})
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].Name < chats[j].Name })
	respondJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type openChatRequest struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

type openChatResponse struct {
	ChatName     string      `json:"chat_name"`
	Namespace    string      `json:"namespace"`
	SessionID    string      `json:"session_id"`
	MessageCount int         `json:"message_count"`
	Created      bool        `json:"created"`
	Instructions string      `json:"instructions,omitempty"`
	History      []turn.Turn `json:"history"`
}

func (s *Server) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	var req openChatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.engine.OpenChat(r.Context(), req.Name, req.Instructions)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	history := res.History
	if history == nil {
		history = []turn.Turn{}
	}
	respondJSON(w, status, openChatResponse{
		ChatName:     res.ChatName,
		Namespace:    res.Namespace,
		SessionID:    res.SessionID,
		MessageCount: res.MessageCount,
		Created:      res.Created,
		Instructions: res.Instructions,
		History:      history,
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_chat_name", "missing chat name")
		return
	}

	history, err := s.engine.History(r.Context(), name)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if history == nil {
		history = []turn.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chat_name": name,
		"turns":     history,
	})
}

func (s *Server) handleChatSimilarities(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_chat_name", "missing chat name")
		return
	}

	scores, err := s.engine.LastScores(name)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	// JSON objects need string keys; turn ids become their decimal form.
	out := make(map[string]float64, len(scores))
	for id, score := range scores {
		out[strconv.Itoa(id)] = score
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chat_name": name,
		"scores":    out,
	})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_chat_name", "missing chat name")
		return
	}

	if err := s.engine.DeleteChat(r.Context(), name); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chat_name": name,
		"deleted":   true,
	})
}
