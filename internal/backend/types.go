package backend

// Message is one prompt sent to a provider.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response is a provider reply.
type Response struct {
	Content   string
	SessionID string
	// Turns is the number of agentic turns or tool calls the provider
	// reported for this reply. Zero when the provider does not say.
	Turns int
	Error string
}

// Config describes one provider instance.
type Config struct {
	Type         string // "claude", "codex", "goose" or "openai"
	WorkDir      string
	SessionID    string
	Model        string
	Provider     string // goose local providers (ollama, lmstudio, llama.cpp)
	SystemPrompt string
	MaxTurns     int

	// Binary overrides the executable for CLI providers.
	Binary string

	// BaseURL and APIKey are used by the openai provider.
	BaseURL string
	APIKey  string
}

// TurnsOrOne is the tool-call cost of a reply for budget accounting.
func (r Response) TurnsOrOne() int {
	if r.Turns > 0 {
		return r.Turns
	}
	return 1
}
