package domain

// ChatMessage is the provider-agnostic chat message shape consumed by the
// generation engines.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerationRequest is what the orchestrator hands a generation engine: the
// system instruction, the projected history and the new user utterance.
type GenerationRequest struct {
	SystemInstruction string
	History           []ChatMessage
	NewUserContent    string
}

// Messages flattens the request into a single chat transcript:
// system instruction, then history, then the new user turn.
func (r GenerationRequest) Messages() []ChatMessage {
	out := make([]ChatMessage, 0, len(r.History)+2)
	if r.SystemInstruction != "" {
		out = append(out, ChatMessage{Role: RoleSystem, Content: r.SystemInstruction})
	}
	out = append(out, r.History...)
	return append(out, ChatMessage{Role: RoleUser, Content: r.NewUserContent})
}
