package llm

import "testing"

func TestNewConversation(t *testing.T) {
	tests := []struct {
		name      string
		req       ChatRequest
		system    string
		turns     []Message
		maxTokens int
	}{
		{
			name: "system split from turns",
			req: ChatRequest{Messages: []Message{
				{Role: RoleSystem, Content: "Extract permits."},
				{Role: RoleUser, Content: "page one"},
			}},
			system:    "Extract permits.",
			turns:     []Message{{Role: RoleUser, Content: "page one"}},
			maxTokens: 1024,
		},
		{
			name: "system messages joined",
			req: ChatRequest{Messages: []Message{
				{Role: RoleSystem, Content: "a"},
				{Role: RoleUser, Content: "q"},
				{Role: RoleSystem, Content: "b"},
			}},
			system:    "a\n\nb",
			turns:     []Message{{Role: RoleUser, Content: "q"}},
			maxTokens: 1024,
		},
		{
			name: "adjacent turns merged",
			req: ChatRequest{Messages: []Message{
				{Role: RoleUser, Content: "one"},
				{Role: RoleUser, Content: "two"},
				{Role: RoleAssistant, Content: "ok"},
				{Role: RoleUser, Content: "three"},
			}},
			turns: []Message{
				{Role: RoleUser, Content: "one\n\ntwo"},
				{Role: RoleAssistant, Content: "ok"},
				{Role: RoleUser, Content: "three"},
			},
			maxTokens: 1024,
		},
		{
			name: "unknown roles dropped and request max tokens win",
			req: ChatRequest{
				Messages: []Message{
					{Role: "tool", Content: "ignored"},
					{Role: RoleUser, Content: "q"},
				},
				MaxTokens: 64,
			},
			turns:     []Message{{Role: RoleUser, Content: "q"}},
			maxTokens: 64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConversation(tt.req, 1024)
			if c.system != tt.system {
				t.Errorf("system = %q, want %q", c.system, tt.system)
			}
			if c.maxTokens != tt.maxTokens {
				t.Errorf("maxTokens = %d, want %d", c.maxTokens, tt.maxTokens)
			}
			if len(c.turns) != len(tt.turns) {
				t.Fatalf("turns = %+v, want %+v", c.turns, tt.turns)
			}
			for i := range c.turns {
				if c.turns[i] != tt.turns[i] {
					t.Errorf("turn %d = %+v, want %+v", i, c.turns[i], tt.turns[i])
				}
			}
		})
	}
}

func TestNewConversation_DoesNotMutateRequest(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleUser, Content: "two"},
	}}
	newConversation(req, 10)
	if req.Messages[0].Content != "one" {
		t.Errorf("request modified: %+v", req.Messages)
	}
}

func TestConversation_LastUser(t *testing.T) {
	c := newConversation(ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	}}, 10)
	history, prompt := c.lastUser()
	if prompt != "q2" || len(history) != 2 || history[1].Content != "a1" {
		t.Errorf("history %+v prompt %q", history, prompt)
	}

	c = newConversation(ChatRequest{Messages: []Message{{Role: RoleAssistant, Content: "a"}}}, 10)
	history, prompt = c.lastUser()
	if prompt != "" || len(history) != 1 {
		t.Errorf("trailing assistant: history %+v prompt %q", history, prompt)
	}
}

func TestTranscript(t *testing.T) {
	got := transcript([]Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
	})
	if want := "[system] s\n[user] u"; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if transcript(nil) != "" {
		t.Error("empty transcript")
	}
}
