package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Registry maps categories to handlers. It is built once at startup and
// read concurrently afterwards.
//
// The assembly category is reserved: its tasks are instructions for the
// Assembler, not fan-out work. The unclassified category is served by the
// pass-through handler.
type Registry struct {
	mu          sync.RWMutex
	handlers    map[scheduler.Category]Handler
	passThrough Handler
	paths       *scheduler.PathLocks
}

// NewRegistry creates a registry whose pass-through forwards task
// descriptions verbatim.
func NewRegistry() *Registry {
	return &Registry{
		handlers:    make(map[scheduler.Category]Handler),
		passThrough: PassThrough{},
		paths:       scheduler.NewPathLocks(),
	}
}

// Register binds a handler to a category. ownedPaths are the workspace paths
// the handler may write; they must not overlap any other handler's paths.
func (r *Registry) Register(cat scheduler.Category, h Handler, ownedPaths ...string) error {
	if h == nil {
		return fmt.Errorf("nil handler for category %s", cat)
	}
	switch cat {
	case scheduler.CategoryAssembly, scheduler.CategoryUnclassified:
		return fmt.Errorf("category %s is reserved", cat)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handlers[cat]; ok {
		return fmt.Errorf("category %s already handled by %q", cat, existing.ID())
	}
	if err := r.paths.Claim(h.ID(), ownedPaths); err != nil {
		return fmt.Errorf("failed to register %q: %w", h.ID(), err)
	}

	r.handlers[cat] = h
	return nil
}

// SetPassThrough replaces the handler used for the unclassified bucket.
func (r *Registry) SetPassThrough(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passThrough = h
}

// Lookup returns the handler serving a category. The unclassified category
// always resolves to the pass-through.
func (r *Registry) Lookup(cat scheduler.Category) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cat == scheduler.CategoryUnclassified {
		return r.passThrough, r.passThrough != nil
	}
	h, ok := r.handlers[cat]
	return h, ok
}

// Categories returns the registered categories in scheduler order.
func (r *Registry) Categories() []scheduler.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []scheduler.Category
	for _, cat := range scheduler.Categories {
		if _, ok := r.handlers[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// OwnedPaths returns the paths a handler claimed at registration.
func (r *Registry) OwnedPaths(handlerID string) []string {
	return r.paths.Owned(handlerID)
}

// Paths exposes the lock manager guarding owned paths.
func (r *Registry) Paths() *scheduler.PathLocks {
	return r.paths
}

// PassThrough forwards the unclassified tasks' descriptions unchanged.
type PassThrough struct{}

func (PassThrough) ID() string { return "pass-through" }

func (PassThrough) Invoke(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error) {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, t.Description)
	}
	return CategoryOutput{
		Category: scheduler.CategoryUnclassified,
		Content:  strings.Join(parts, "\n\n"),
		Status:   OutputOK,
	}, nil
}
