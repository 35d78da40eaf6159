package backend

import (
	"strings"
	"testing"
)

func TestFactory_CreatesAdapters(t *testing.T) {
	pm := NewProcessManager()

	tests := []struct {
		cfg         Config
		wantSession bool
		wantType    string
	}{
		{Config{Type: "claude", WorkDir: "/tmp/test", Model: "sonnet"}, true, "*backend.CLIAdapter"},
		{Config{Type: "codex", WorkDir: "/tmp/test", Model: "gpt-4"}, false, "*backend.CLIAdapter"},
		{Config{Type: "goose", WorkDir: "/tmp/test", Provider: "ollama", Model: "llama2"}, true, "*backend.CLIAdapter"},
		{Config{Type: "openai", BaseURL: "http://localhost:1234/v1", Model: "qwen"}, true, "*backend.LangChainAdapter"},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			b, err := New(tt.cfg, pm)
			if err != nil {
				t.Fatalf("Failed to create %s adapter: %v", tt.cfg.Type, err)
			}
			if got := typeName(b); got != tt.wantType {
				t.Errorf("Expected %s, got %s", tt.wantType, got)
			}

			// codex learns its thread id from the first reply
			if tt.wantSession && b.SessionID() == "" {
				t.Errorf("Expected a generated session ID for %s", tt.cfg.Type)
			}
			if !tt.wantSession && b.SessionID() != "" {
				t.Errorf("Expected empty session ID for %s, got %s", tt.cfg.Type, b.SessionID())
			}

			if err := b.Close(); err != nil {
				t.Errorf("Close() failed: %v", err)
			}
		})
	}
}

func TestFactory_UnknownType(t *testing.T) {
	b, err := New(Config{Type: "unknown"}, NewProcessManager())
	if err == nil {
		t.Fatal("Expected error for unknown backend type, got nil")
	}
	if !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("Expected error to contain 'unknown backend type', got: %v", err)
	}
	if b != nil {
		t.Errorf("Expected nil backend for unknown type, got: %v", b)
	}
}

func TestResponse_TurnsOrOne(t *testing.T) {
	if got := (Response{}).TurnsOrOne(); got != 1 {
		t.Errorf("Expected 1 for an unreported turn count, got %d", got)
	}
	if got := (Response{Turns: 7}).TurnsOrOne(); got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *CLIAdapter:
		return "*backend.CLIAdapter"
	case *LangChainAdapter:
		return "*backend.LangChainAdapter"
	default:
		return "unknown"
	}
}
