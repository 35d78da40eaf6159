package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lmandrelli/grape-coder/internal/agents"
	"github.com/lmandrelli/grape-coder/internal/backend"
	"github.com/lmandrelli/grape-coder/internal/config"
	"github.com/lmandrelli/grape-coder/internal/events"
	"github.com/lmandrelli/grape-coder/internal/httpapi"
	"github.com/lmandrelli/grape-coder/internal/lint"
	"github.com/lmandrelli/grape-coder/internal/logging"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/persistence"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
	"github.com/lmandrelli/grape-coder/internal/snapshot"
)

// ownedPaths are the workspace paths each generator writes. Structural
// pages live at the site root, which cannot be claimed without overlapping
// every other owner.
var ownedPaths = map[scheduler.Category][]string{
	scheduler.CategoryVisual:     {"styles"},
	scheduler.CategoryBehavioral: {"scripts"},
	scheduler.CategoryTextual:    {"content"},
}

// app holds everything a command needs, built once from configuration.
type app struct {
	cfg     *config.Config
	dir     string
	logger  *zap.Logger
	pm      *backend.ProcessManager
	bus     *events.EventBus
	store   *persistence.SQLiteStore // nil when storage is disabled
	snaps   *snapshot.GitSnapshotter // nil when git snapshots are disabled
	team    *agents.Team
	logFile string

	breakers *backend.BreakerRegistry
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// appOptions tune newApp for the command being run.
type appOptions struct {
	logToFile bool // the TUI owns the terminal
	storage   bool // open the audit store and snapshot repository
}

// loadConfig reads the layered configuration for dir.
func loadConfig(dir string) (*config.Config, error) {
	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(globalPath, projectConfigPath(dir))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func projectConfigPath(dir string) string {
	if projectConfig != "" {
		return projectConfig
	}
	return filepath.Join(dir, config.ProjectPath())
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	dir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{
		cfg:      cfg,
		dir:      dir,
		pm:       backend.NewProcessManager(),
		bus:      events.NewEventBus(),
		limiters: make(map[string]*rate.Limiter),
	}

	logCfg := cfg.Log
	if opts.logToFile && logCfg.File == "" {
		logCfg.File = filepath.Join(dir, ".grape-coder", "grape-coder.log")
		if err := os.MkdirAll(filepath.Dir(logCfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	a.logFile = logCfg.File
	if a.logger, err = logging.New(logCfg); err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a.breakers = backend.NewBreakerRegistry(cfg.BreakerPolicy(), a.logger.Named("breaker"))
	a.team = agents.NewTeam(a.newBackend,
		agents.WithXMLRetries(cfg.Loop.XMLRetries),
		agents.WithEntryPoint(cfg.Loop.EntryPoint),
		agents.WithLogger(a.logger.Named("agents")))

	if opts.storage {
		if err := a.openStorage(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	if path := a.cfg.Storage.Database; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.dir, path)
		}
		store, err := persistence.NewSQLiteStore(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		a.store = store
	}
	if a.cfg.Storage.GitSnapshots {
		a.snaps = snapshot.New(snapshot.Config{
			RepoPath:    a.dir,
			AuthorName:  a.cfg.Storage.AuthorName,
			AuthorEmail: a.cfg.Storage.AuthorEmail,
		}, a.logger.Named("snapshot"))
	}
	return nil
}

// newBackend is the agents.Factory: every backend is wrapped with retry,
// a circuit breaker per provider and the provider's rate limiter.
func (a *app) newBackend(role agents.Role, workDir string) (backend.Backend, error) {
	bc, err := a.cfg.Backend(string(role), workDir)
	if err != nil {
		return nil, err
	}
	b, err := backend.New(bc, a.pm)
	if err != nil {
		return nil, err
	}
	provider := a.cfg.ProviderOf(string(role))
	return backend.NewResilient(b, a.breakers.Get(provider), a.limiter(provider), a.cfg.RetryPolicy()), nil
}

// limiter returns the shared token bucket of a provider, nil when the
// provider is not rate limited.
func (a *app) limiter(provider string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.limiters[provider]; ok {
		return l
	}
	l := backend.NewLimiter(a.cfg.RequestsPerMinute(provider), a.cfg.RateLimit.Burst)
	a.limiters[provider] = l
	return l
}

// checkpointer combines the enabled checkpoint sinks.
func (a *app) checkpointer() orchestrator.Checkpointer {
	var cs orchestrator.Checkpoints
	if a.store != nil {
		cs = append(cs, a.store)
	}
	if a.snaps != nil {
		cs = append(cs, a.snaps)
	}
	if len(cs) == 0 {
		return orchestrator.NopCheckpointer{}
	}
	return cs
}

// runStore returns the audit store as an interface value that is nil when
// storage is disabled.
func (a *app) runStore() httpapi.RunStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) linter() *lint.Suite {
	return lint.NewSuite(a.logger.Named("lint"), a.cfg.LintChecks()...)
}

// pipeline builds the full generate-and-review pipeline.
func (a *app) pipeline() (*orchestrator.Pipeline, error) {
	reg := orchestrator.NewRegistry()
	if err := a.team.Register(reg, ownedPaths); err != nil {
		return nil, fmt.Errorf("failed to register generators: %w", err)
	}
	return orchestrator.NewPipeline(reg, a.team.Assembler(), a.team.Collaborators(a.linter(), a.cfg.Gate()), orchestrator.PipelineConfig{
		HandlerTimeout: a.cfg.Loop.HandlerTimeout.Std(),
		Loop:           a.cfg.LoopConfig(),
		Logger:         a.logger,
		Bus:            a.bus,
		Checkpointer:   a.checkpointer(),
	})
}

// shutdown kills every agent subprocess still running.
func (a *app) shutdown() {
	if err := a.pm.KillAll(); err != nil {
		a.logger.Warn("failed to kill agent processes", zap.Error(err))
	}
}

// Close releases the store, the bus and the logger.
func (a *app) Close() {
	a.bus.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close run store", zap.Error(err))
		}
	}
	_ = logging.Sync(a.logger)
}
