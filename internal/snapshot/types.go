package snapshot

import "time"

// Info describes one committed revision.
type Info struct {
	RunID    string
	Revision int    // 0 for the final tag
	Tag      string // Short tag name, e.g. grape-coder/run-1/rev-2
	Hash     string // Commit hash
	Message  string
	When     time.Time
}

// Config configures the snapshotter.
type Config struct {
	RepoPath    string // Work directory holding the artifact; initialised on first use
	AuthorName  string
	AuthorEmail string
	TagPrefix   string // Default "grape-coder"
}
