package turn

import "encoding/json"

// Message holds one side of a conversational exchange.
type Message struct {
	Text string `json:"text"`
}

// Turn is a completed user+assistant exchange. Ids are 1-based and
// dense within a chat: turns[i].ID == i+1.
type Turn struct {
	ID        int     `json:"id"`
	User      Message `json:"user"`
	Assistant Message `json:"assistant"`
}

// UnmarshalJSON accepts both the current "assistant" key and the
// legacy "llm" key written by early history files.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        int      `json:"id"`
		User      Message  `json:"user"`
		Assistant *Message `json:"assistant"`
		LLM       *Message `json:"llm"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.ID = raw.ID
	t.User = raw.User
	switch {
	case raw.Assistant != nil:
		t.Assistant = *raw.Assistant
	case raw.LLM != nil:
		t.Assistant = *raw.LLM
	default:
		t.Assistant = Message{}
	}
	return nil
}

// Append adds a new turn with the next dense id and returns the grown
// history along with the assigned id.
func Append(history []Turn, userText, assistantText string) ([]Turn, int) {
	id := len(history) + 1
	history = append(history, Turn{
		ID:        id,
		User:      Message{Text: userText},
		Assistant: Message{Text: assistantText},
	})
	return history, id
}
