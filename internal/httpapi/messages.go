package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/grigolet/memchat/internal/convo"
	"github.com/grigolet/memchat/internal/turn"
)

type messageRequest struct {
	ChatName    string `json:"chat_name"`
	Message     string `json:"message"`
	FullContext bool   `json:"full_context"`
}

type messageResponse struct {
	ChatName         string             `json:"chat_name"`
	TurnID           int                `json:"turn_id"`
	UserMessage      string             `json:"user_message"`
	AssistantMessage string             `json:"assistant_message"`
	ContextTurns     []turn.Turn        `json:"context_turns"`
	RelevantTurnIDs  []int              `json:"relevant_turn_ids"`
	SimilarityScores map[string]float64 `json:"similarity_scores"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.engine.Send(r.Context(), req.ChatName, req.Message, req.FullContext)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	ctxTurns := reply.ContextTurns
	if ctxTurns == nil {
		ctxTurns = []turn.Turn{}
	}
	ids := reply.RelevantTurnIDs
	if ids == nil {
		ids = []int{}
	}
	respondJSON(w, http.StatusOK, messageResponse{
		ChatName:         req.ChatName,
		TurnID:           reply.TurnID,
		UserMessage:      reply.UserMessage,
		AssistantMessage: reply.AssistantMessage,
		ContextTurns:     ctxTurns,
		RelevantTurnIDs:  ids,
		SimilarityScores: stringifyScores(reply.SimilarityScores),
	})
}

// handleMessageStream answers with Server-Sent Events: one metadata
// frame, the generated text in chunk frames, then a done frame. The
// chat is validated before the 200 is committed so client errors still
// get a JSON status.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// All request validation happens before the 200 is committed; once
	// the event stream starts there is no way to signal a 4xx.
	if strings.TrimSpace(req.ChatName) == "" {
		respondEngineError(w, convo.ErrEmptyChatName)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondEngineError(w, convo.ErrEmptyMessage)
		return
	}
	if err := s.engine.EnsureChat(r.Context(), req.ChatName); err != nil {
		respondEngineError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.engine.SendStream(r.Context(), req.ChatName, req.Message, req.FullContext, func(event any) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already on the wire. Log and let the connection
		// close; the client detects the truncated stream.
		log.Printf("message stream aborted for chat %q: %v", req.ChatName, err)
	}
}

func stringifyScores(scores map[int]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for id, score := range scores {
		out[strconv.Itoa(id)] = score
	}
	return out
}
