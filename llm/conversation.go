package llm

import "strings"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// conversation is a request normalized for provider APIs that take the
// system prompt separately and expect user and assistant turns to
// alternate.
type conversation struct {
	system    string
	turns     []Message
	maxTokens int
}

// newConversation folds every system message into one prompt, merges
// adjacent turns from the same speaker and drops messages with unknown
// roles. The request's MaxTokens wins over fallback when positive.
func newConversation(req ChatRequest, fallback int) conversation {
	c := conversation{maxTokens: fallback}
	if req.MaxTokens > 0 {
		c.maxTokens = req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser, RoleAssistant:
			if n := len(c.turns); n > 0 && c.turns[n-1].Role == m.Role {
				c.turns[n-1].Content += "\n\n" + m.Content
				continue
			}
			c.turns = append(c.turns, m)
		}
	}
	c.system = strings.Join(system, "\n\n")
	return c
}

// lastUser splits off a trailing user turn, for chat APIs that take the
// history and the new prompt separately.
func (c conversation) lastUser() (history []Message, prompt string) {
	n := len(c.turns)
	if n == 0 || c.turns[n-1].Role != RoleUser {
		return c.turns, ""
	}
	return c.turns[:n-1], c.turns[n-1].Content
}

// transcript renders the request as "[role] content" lines for span
// attributes.
func transcript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[" + m.Role + "] " + m.Content)
	}
	return b.String()
}
