package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyCompletion is returned when the provider answers with no choices.
var ErrEmptyCompletion = errors.New("provider returned no choices")

// LangChainAdapter talks to any OpenAI-compatible chat endpoint through
// langchaingo. It keeps the conversation in memory so that consecutive
// Sends behave like a resumed CLI session.
type LangChainAdapter struct {
	llm       llms.Model
	sessionID string

	mu      sync.Mutex
	history []llms.MessageContent
}

// NewLangChainAdapter creates an adapter from cfg. BaseURL selects a
// self-hosted or proxy endpoint; an empty APIKey is replaced by a
// placeholder because local servers ignore it but the client requires one.
func NewLangChainAdapter(cfg Config) (*LangChainAdapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed"
	}

	opts := []openai.Option{openai.WithToken(apiKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return newLangChainAdapter(llm, cfg), nil
}

func newLangChainAdapter(llm llms.Model, cfg Config) *LangChainAdapter {
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	a := &LangChainAdapter{llm: llm, sessionID: id}
	if cfg.SystemPrompt != "" {
		a.history = append(a.history, llms.TextParts(llms.ChatMessageTypeSystem, cfg.SystemPrompt))
	}
	return a
}

// Send appends msg to the conversation and asks the model for the next turn.
// A failed call leaves the conversation unchanged so it can be retried.
func (a *LangChainAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	role := llms.ChatMessageTypeHuman
	if msg.Role == "system" {
		role = llms.ChatMessageTypeSystem
	}

	messages := make([]llms.MessageContent, 0, len(a.history)+1)
	messages = append(messages, a.history...)
	messages = append(messages, llms.TextParts(role, msg.Content))

	out, err := a.llm.GenerateContent(ctx, messages)
	if err != nil {
		return Response{Error: err.Error(), SessionID: a.sessionID}, fmt.Errorf("generating content: %w", err)
	}
	if out == nil || len(out.Choices) == 0 {
		return Response{Error: ErrEmptyCompletion.Error(), SessionID: a.sessionID}, ErrEmptyCompletion
	}

	choice := out.Choices[0]
	a.history = append(messages, llms.TextParts(llms.ChatMessageTypeAI, choice.Content))

	return Response{
		Content:   choice.Content,
		SessionID: a.sessionID,
		Turns:     1 + len(choice.ToolCalls),
	}, nil
}

// Close drops the conversation.
func (a *LangChainAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	return nil
}

// SessionID returns the locally generated conversation id.
func (a *LangChainAdapter) SessionID() string {
	return a.sessionID
}
