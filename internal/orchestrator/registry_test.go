package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *Registry) error
		cat     scheduler.Category
		paths   []string
		wantErr bool
	}{
		{
			name:  "first handler",
			setup: func(r *Registry) error { return nil },
			cat:   scheduler.CategoryVisual,
			paths: []string{"css"},
		},
		{
			name:    "assembly is reserved",
			setup:   func(r *Registry) error { return nil },
			cat:     scheduler.CategoryAssembly,
			wantErr: true,
		},
		{
			name:    "unclassified is reserved",
			setup:   func(r *Registry) error { return nil },
			cat:     scheduler.CategoryUnclassified,
			wantErr: true,
		},
		{
			name: "duplicate category",
			setup: func(r *Registry) error {
				return r.Register(scheduler.CategoryVisual, contentHandler("css-a", "", 0))
			},
			cat:     scheduler.CategoryVisual,
			wantErr: true,
		},
		{
			name: "overlapping owned paths",
			setup: func(r *Registry) error {
				return r.Register(scheduler.CategoryStructural, contentHandler("html", "", 0), "index.html", "assets")
			},
			cat:     scheduler.CategoryVisual,
			paths:   []string{"assets/site.css"},
			wantErr: true,
		},
		{
			name: "disjoint owned paths",
			setup: func(r *Registry) error {
				return r.Register(scheduler.CategoryStructural, contentHandler("html", "", 0), "index.html")
			},
			cat:   scheduler.CategoryVisual,
			paths: []string{"style.css"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			require.NoError(t, tt.setup(r))

			err := r.Register(tt.cat, contentHandler("candidate", "", 0), tt.paths...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			h, ok := r.Lookup(tt.cat)
			require.True(t, ok)
			assert.Equal(t, "candidate", h.ID())
		})
	}
}

func TestRegistry_NilHandler(t *testing.T) {
	assert.Error(t, NewRegistry().Register(scheduler.CategoryVisual, nil))
}

func TestRegistry_CategoriesInOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(scheduler.CategoryTextual, contentHandler("text", "", 0)))
	require.NoError(t, r.Register(scheduler.CategoryStructural, contentHandler("html", "", 0)))

	assert.Equal(t, []scheduler.Category{scheduler.CategoryStructural, scheduler.CategoryTextual}, r.Categories())

	_, ok := r.Lookup(scheduler.CategoryVisual)
	assert.False(t, ok)
}

func TestRegistry_OwnedPaths(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(scheduler.CategoryVisual, contentHandler("css", "", 0), "./style.css", "img/"))

	assert.Equal(t, []string{"img", "style.css"}, r.OwnedPaths("css"))
	assert.Empty(t, r.OwnedPaths("html"))
}

func TestPassThrough_Verbatim(t *testing.T) {
	r := NewRegistry()
	h, ok := r.Lookup(scheduler.CategoryUnclassified)
	require.True(t, ok)

	out, err := h.Invoke(context.Background(), []scheduler.Task{
		{Description: "Add a <footer> with © 2024"},
		{Description: "  keep   spacing  "},
	}, HandlerContext{})
	require.NoError(t, err)
	assert.Equal(t, "Add a <footer> with © 2024\n\n  keep   spacing  ", out.Content)
	assert.Equal(t, OutputOK, out.Status)
}

func TestRegistry_SetPassThrough(t *testing.T) {
	r := NewRegistry()
	custom := contentHandler("custom-pass", "x", 0)
	r.SetPassThrough(custom)

	h, ok := r.Lookup(scheduler.CategoryUnclassified)
	require.True(t, ok)
	assert.Equal(t, "custom-pass", h.ID())
}
