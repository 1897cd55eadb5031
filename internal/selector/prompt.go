package selector

import (
	"strings"

	"github.com/grigolet/memchat/internal/turn"
)

// AssemblePrompt renders the selected turns plus the new input into
// the prompt sent to the responder. No truncation or token counting:
// length limits are the responder's problem.
func AssemblePrompt(instructions string, turns []turn.Turn, input string) string {
	var b strings.Builder
	if strings.TrimSpace(instructions) != "" {
		b.WriteString("System Instructions: ")
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.User.Text)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Assistant.Text)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(input)
	b.WriteString("\nAssistant: ")
	return b.String()
}
