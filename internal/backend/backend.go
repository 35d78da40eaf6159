package backend

import (
	"context"
	"fmt"
)

// Backend is a conversational LLM provider.
type Backend interface {
	// Send sends a message and returns the reply.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases provider resources.
	Close() error

	// SessionID returns the current session identifier.
	SessionID() string
}

// New creates a backend for cfg.Type.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "claude", "codex", "goose":
		return NewCLIAdapter(cfg, pm)
	case "openai":
		return NewLangChainAdapter(cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
