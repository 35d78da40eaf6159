// Package agents implements the orchestration collaborators on top of LLM
// backends: one generator per content category, the assembler, and the
// reviewer, scorer, task generator and reviser of the quality loop.
package agents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lmandrelli/grape-coder/internal/backend"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Role names an agent; it selects the provider configuration.
type Role string

const (
	RoleHTML          Role = "html"
	RoleJS            Role = "js"
	RoleCSS           Role = "css"
	RoleText          Role = "text"
	RoleAssembler     Role = "assembler"
	RoleReviewer      Role = "reviewer"
	RoleScorer        Role = "scorer"
	RoleTaskGenerator Role = "task_generator"
	RoleReviser       Role = "reviser"
	RolePlanner       Role = "planner"
)

// Roles lists every role in configuration order.
var Roles = []Role{
	RolePlanner, RoleHTML, RoleJS, RoleCSS, RoleText,
	RoleAssembler, RoleReviewer, RoleScorer, RoleTaskGenerator, RoleReviser,
}

var categoryRoles = map[scheduler.Category]Role{
	scheduler.CategoryStructural: RoleHTML,
	scheduler.CategoryBehavioral: RoleJS,
	scheduler.CategoryVisual:     RoleCSS,
	scheduler.CategoryTextual:    RoleText,
}

// RoleFor returns the generator role for a content category.
func RoleFor(cat scheduler.Category) (Role, bool) {
	r, ok := categoryRoles[cat]
	return r, ok
}

// DefaultXMLRetries is how many times a malformed structured reply is sent
// back to the model for correction.
const DefaultXMLRetries = 3

// ErrMalformedReply is returned when a model never produced a parseable
// structured reply.
var ErrMalformedReply = errors.New("malformed structured reply")

// Factory creates a fresh backend for role rooted at workDir.
type Factory func(role Role, workDir string) (backend.Backend, error)

// Team builds every agent from one Factory.
type Team struct {
	factory    Factory
	xmlRetries int
	entryPoint string
	logger     *zap.Logger
}

// Option configures a Team.
type Option func(*Team)

// WithXMLRetries sets the correction attempts for structured replies.
func WithXMLRetries(n int) Option {
	return func(t *Team) {
		if n >= 0 {
			t.xmlRetries = n
		}
	}
}

// WithEntryPoint sets the artifact's main file, index.html by default.
func WithEntryPoint(path string) Option {
	return func(t *Team) {
		if path != "" {
			t.entryPoint = path
		}
	}
}

// WithLogger sets the team logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Team) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTeam creates a Team.
func NewTeam(factory Factory, opts ...Option) *Team {
	t := &Team{
		factory:    factory,
		xmlRetries: DefaultXMLRetries,
		entryPoint: "index.html",
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a generator for every content category to reg. owned maps
// categories to the paths their generator may write.
func (t *Team) Register(reg *orchestrator.Registry, owned map[scheduler.Category][]string) error {
	for _, cat := range scheduler.Categories {
		if _, ok := RoleFor(cat); !ok {
			continue
		}
		if err := reg.Register(cat, t.Generator(cat, owned[cat]...), owned[cat]...); err != nil {
			return err
		}
	}
	return nil
}

// Collaborators returns the loop collaborators backed by this team. gate
// must be the one the loop controller decides with, so the task generator
// targets the categories that actually failed.
func (t *Team) Collaborators(linter orchestrator.Linter, gate orchestrator.Gate) orchestrator.LoopCollaborators {
	return orchestrator.LoopCollaborators{
		Linter:        linter,
		Reviewer:      t.Reviewer(),
		Scorer:        t.Scorer(),
		TaskGenerator: t.TaskGenerator().WithGate(gate),
		Reviser:       t.Reviser(),
	}
}

// session is one conversation with a role's backend.
type session struct {
	role Role
	b    backend.Backend
	hc   orchestrator.HandlerContext
}

func (t *Team) open(role Role, hc orchestrator.HandlerContext) (*session, error) {
	b, err := t.factory(role, hc.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", role, err)
	}
	return &session{role: role, b: b, hc: hc}, nil
}

func (s *session) close() {
	_ = s.b.Close()
}

// send delivers prompt and charges the reported turns to the handler's
// budget. Work already done is still charged when it overruns.
func (s *session) send(ctx context.Context, prompt string) (backend.Response, error) {
	resp, err := s.b.Send(ctx, backend.Message{Content: prompt, Role: "user"})
	if err != nil {
		return resp, fmt.Errorf("%s agent: %w", s.role, err)
	}
	if err := s.hc.Consume(ctx, resp.TurnsOrOne()); err != nil {
		return resp, fmt.Errorf("%s agent: %w", s.role, err)
	}
	return resp, nil
}

// askStructured sends prompt and parses the reply, sending the parse error
// back for correction up to retries times.
func askStructured[T any](ctx context.Context, s *session, prompt string, retries int, root string, parse func(string) (T, error)) (T, error) {
	var zero T
	msg := prompt
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := s.send(ctx, msg)
		if err != nil {
			return zero, err
		}
		v, err := parse(resp.Content)
		if err == nil {
			return v, nil
		}
		lastErr = err
		msg, err = render(correctionPrompt, map[string]any{
			"Root":     root,
			"Error":    err.Error(),
			"Original": prompt,
		})
		if err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s agent: %w after %d attempts: %v", s.role, ErrMalformedReply, retries+1, lastErr)
}
