// Package responder bridges the conversation engine to the language
// model that actually generates replies.
package responder

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ApologyText is the fixed degraded reply persisted when the responder
// fails. The engine applies it; backends just return their errors.
const ApologyText = "Sorry, I encountered an error processing your request."

// DeltaHandler receives streaming text fragments in producer order.
type DeltaHandler func(delta string) error

// Response is the final accumulated text after streaming completes.
type Response struct {
	Text string
}

// Responder generates a reply for a composed prompt. Non-streaming
// callers pass a nil handler and read Response.Text.
type Responder interface {
	StreamResponse(ctx context.Context, prompt string, onDelta DeltaHandler) (Response, error)
}

// Config controls responder construction.
type Config struct {
	Mode         string
	OpenAIClient *openai.Client
	OpenAIModel  string
	HTTPURL      string
}

func New(cfg Config) (Responder, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		// Prefer the OpenAI-style backend when a client is configured;
		// the mock keeps local runs conversational without any keys.
		if cfg.OpenAIClient != nil {
			return NewFallbackResponder(NewOpenAIResponder(cfg.OpenAIClient, cfg.OpenAIModel), NewMockResponder()), nil
		}
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPResponder(cfg.HTTPURL), nil
		}
		return NewMockResponder(), nil
	case "openai":
		if cfg.OpenAIClient == nil {
			return nil, fmt.Errorf("openai responder requires an API key")
		}
		return NewOpenAIResponder(cfg.OpenAIClient, cfg.OpenAIModel), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("http responder requires RESPONDER_HTTP_URL")
		}
		return NewHTTPResponder(cfg.HTTPURL), nil
	case "mock":
		return NewMockResponder(), nil
	default:
		return nil, fmt.Errorf("unsupported responder mode %q", cfg.Mode)
	}
}
