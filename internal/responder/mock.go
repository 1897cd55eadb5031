package responder

import (
	"context"
	"fmt"
	"strings"
)

// MockResponder produces deterministic local replies when no model
// backend is configured.
type MockResponder struct{}

func NewMockResponder() *MockResponder { return &MockResponder{} }

func (r *MockResponder) StreamResponse(ctx context.Context, prompt string, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(prompt)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}

// buildMockReply echoes the newest user line so conversations stay
// readable during offline development.
func buildMockReply(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if msg, ok := strings.CutPrefix(lines[i], "User: "); ok {
			msg = strings.TrimSpace(msg)
			if msg == "" {
				break
			}
			return fmt.Sprintf("You said: %s", msg)
		}
	}
	return "I am listening."
}
