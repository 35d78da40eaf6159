package backend

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// cliSession is the per-adapter state a dialect needs to build arguments.
type cliSession struct {
	id           string
	model        string
	provider     string
	systemPrompt string
	maxTurns     int
	started      bool
}

// dialect describes how one agentic CLI is driven: how its arguments are
// built for a first or a resumed call and how its stdout is decoded.
type dialect struct {
	binary string
	// newSessionID returns the id used for the first call. An empty id
	// means the CLI assigns one and reports it in its output.
	newSessionID func() string
	buildArgs    func(s cliSession, msg Message) []string
	parse        func(stdout, stderr []byte) (Response, error)
}

var dialects = map[string]dialect{
	"claude": claudeDialect,
	"codex":  codexDialect,
	"goose":  gooseDialect,
}

// CLIAdapter drives an agentic coding CLI, one subprocess per message,
// resuming the same session across calls.
type CLIAdapter struct {
	kind    string
	dialect dialect
	binary  string
	workDir string
	procMgr *ProcessManager

	mu      sync.Mutex
	session cliSession
}

// NewCLIAdapter creates an adapter for cfg.Type. The ProcessManager is
// optional; when nil subprocesses are not tracked.
func NewCLIAdapter(cfg Config, procMgr *ProcessManager) (*CLIAdapter, error) {
	d, ok := dialects[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown cli backend: %s", cfg.Type)
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		if workDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	binary := cfg.Binary
	if binary == "" {
		binary = d.binary
	}

	id := cfg.SessionID
	if id == "" && d.newSessionID != nil {
		id = d.newSessionID()
	}

	return &CLIAdapter{
		kind:    cfg.Type,
		dialect: d,
		binary:  binary,
		workDir: workDir,
		procMgr: procMgr,
		session: cliSession{
			id:           id,
			model:        cfg.Model,
			provider:     cfg.Provider,
			systemPrompt: cfg.SystemPrompt,
			maxTurns:     cfg.MaxTurns,
			// A caller-supplied session is resumed, never recreated.
			started: cfg.SessionID != "",
		},
	}, nil
}

// Send runs the CLI once for msg. Calls on one adapter are serialized
// because every call continues the same conversation.
func (a *CLIAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cmd := newCommand(ctx, a.binary, a.dialect.buildArgs(a.session, msg)...)
	cmd.Dir = a.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{
			Error:     fmt.Sprintf("%s command failed: %v", a.kind, err),
			SessionID: a.session.id,
		}, err
	}

	resp, err := a.dialect.parse(stdout, stderr)
	if err != nil {
		return Response{
			Error:     fmt.Sprintf("failed to parse %s response: %v (stderr: %s)", a.kind, err, stderr),
			SessionID: a.session.id,
		}, err
	}

	if resp.SessionID != "" {
		a.session.id = resp.SessionID
	}
	resp.SessionID = a.session.id
	a.session.started = true
	return resp, nil
}

// Close is a no-op: no subprocess outlives a Send.
func (a *CLIAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *CLIAdapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.id
}
