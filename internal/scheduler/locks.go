package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PathLocks tracks which handler owns which workspace paths and provides
// per-path mutual exclusion for writers.
//
// Ownership is exclusive: two owners may never claim the same path, or a path
// nested under another owner's directory. Locking uses a keyed mutex so writes
// to different paths proceed concurrently.
type PathLocks struct {
	mu     sync.Mutex             // Guards locks and owners
	locks  map[string]*sync.Mutex // Per-path mutexes
	owners map[string]string      // Cleaned path -> owner ID
}

// NewPathLocks creates an empty PathLocks.
func NewPathLocks() *PathLocks {
	return &PathLocks{
		locks:  make(map[string]*sync.Mutex),
		owners: make(map[string]string),
	}
}

func cleanPath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// overlaps reports whether one path equals or contains the other.
func overlaps(a, b string) bool {
	if a == b || a == "." || b == "." {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Claim records owner as the exclusive writer of paths.
// Returns an error naming the conflicting owner if any path overlaps a path
// already claimed by someone else. Nothing is recorded on error.
func (p *PathLocks) Claim(owner string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cleaned := make([]string, 0, len(paths))
	for _, raw := range paths {
		c := cleanPath(raw)
		for existing, other := range p.owners {
			if other != owner && overlaps(c, existing) {
				return fmt.Errorf("path %q claimed by %q overlaps %q owned by %q", c, owner, existing, other)
			}
		}
		cleaned = append(cleaned, c)
	}

	for _, c := range cleaned {
		p.owners[c] = owner
	}
	return nil
}

// Owned returns the sorted paths claimed by owner.
func (p *PathLocks) Owned(owner string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for path, o := range p.owners {
		if o == owner {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Claimed returns every claimed path, sorted.
func (p *PathLocks) Claimed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.owners))
	for path := range p.owners {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Lock acquires the mutex for a path, creating it on first access.
func (p *PathLocks) Lock(path string) {
	key := cleanPath(path)

	p.mu.Lock()
	l, exists := p.locks[key]
	if !exists {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()

	// Acquire outside the manager lock to avoid contention
	l.Lock()
}

// Unlock releases the mutex for a path.
func (p *PathLocks) Unlock(path string) {
	key := cleanPath(path)

	p.mu.Lock()
	l, exists := p.locks[key]
	p.mu.Unlock()

	if exists {
		l.Unlock()
	}
}

// LockAll acquires locks for all paths in lexicographic order, which keeps
// concurrent LockAll calls deadlock-free.
func (p *PathLocks) LockAll(paths []string) {
	for _, path := range sortedCopy(paths) {
		p.Lock(path)
	}
}

// LockAllContext is LockAll that gives up when ctx ends. Locks acquired
// after the caller gave up are released in the background.
func (p *PathLocks) LockAllContext(ctx context.Context, paths []string) error {
	acquired := make(chan struct{})
	go func() {
		p.LockAll(paths)
		close(acquired)
	}()

	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		go func() {
			<-acquired
			p.UnlockAll(paths)
		}()
		return ctx.Err()
	}
}

// UnlockAll releases locks for all paths in reverse order.
func (p *PathLocks) UnlockAll(paths []string) {
	sorted := sortedCopy(paths)
	for i := len(sorted) - 1; i >= 0; i-- {
		p.Unlock(sorted[i])
	}
}

func sortedCopy(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		c := cleanPath(path)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
