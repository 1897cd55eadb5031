// Package protocol defines the stream event types shared by the SSE
// and websocket message surfaces.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/grigolet/memchat/internal/turn"
)

// EventType identifies stream payload variants.
type EventType string

const (
	TypeMetadata      EventType = "metadata"
	TypeChunk         EventType = "chunk"
	TypeDone          EventType = "done"
	TypeError         EventType = "error"
	TypeClientMessage EventType = "client_message"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type EventType `json:"type"`
}

// ContextTurn is a prompt-context turn flattened for consumers.
type ContextTurn struct {
	ID        int    `json:"id"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// MetadataEvent is emitted once per streamed reply, before any
// generated text, so a consumer can render provenance first.
type MetadataEvent struct {
	Type             EventType       `json:"type"`
	ContextTurns     []ContextTurn   `json:"context_turns"`
	RelevantTurnIDs  []int           `json:"relevant_turn_ids"`
	SimilarityScores map[int]float64 `json:"similarity_scores"`
}

type ChunkEvent struct {
	Type EventType `json:"type"`
	Text string    `json:"text"`
}

type DoneEvent struct {
	Type   EventType `json:"type"`
	TurnID int       `json:"turn_id"`
}

type ErrorEvent struct {
	Type   EventType `json:"type"`
	Code   string    `json:"code"`
	Detail string    `json:"detail"`
}

// ClientMessage is the websocket inbound request for a streamed reply.
type ClientMessage struct {
	Type           EventType `json:"type"`
	ChatName       string    `json:"chat_name"`
	Message        string    `json:"message"`
	UseFullContext bool      `json:"use_full_context"`
}

func NewMetadataEvent(turns []turn.Turn, relevantIDs []int, scores map[int]float64) MetadataEvent {
	flat := make([]ContextTurn, 0, len(turns))
	for _, t := range turns {
		flat = append(flat, ContextTurn{ID: t.ID, User: t.User.Text, Assistant: t.Assistant.Text})
	}
	if relevantIDs == nil {
		relevantIDs = []int{}
	}
	if scores == nil {
		scores = map[int]float64{}
	}
	return MetadataEvent{
		Type:             TypeMetadata,
		ContextTurns:     flat,
		RelevantTurnIDs:  relevantIDs,
		SimilarityScores: scores,
	}
}

func NewChunkEvent(text string) ChunkEvent {
	return ChunkEvent{Type: TypeChunk, Text: text}
}

func NewDoneEvent(turnID int) DoneEvent {
	return DoneEvent{Type: TypeDone, TurnID: turnID}
}

func NewErrorEvent(code, detail string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: code, Detail: detail}
}

// ParseClientMessage validates a raw websocket payload.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type != TypeClientMessage {
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, err
	}
	if strings.TrimSpace(msg.ChatName) == "" {
		return ClientMessage{}, errors.New("client_message requires chat_name")
	}
	if strings.TrimSpace(msg.Message) == "" {
		return ClientMessage{}, errors.New("client_message requires message")
	}
	return msg, nil
}
