// Package snapshot commits every artifact revision to a git repository in
// the work directory, so each revision can be diffed and restored.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/lmandrelli/grape-coder/internal/logging"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// ErrNoSnapshot is returned when a requested revision was never committed.
var ErrNoSnapshot = errors.New("snapshot not found")

const defaultIgnore = ".grape-coder/\nnode_modules/\n"

// GitSnapshotter implements orchestrator.Checkpointer by committing the work
// directory on every revision. Other checkpoints are ignored.
type GitSnapshotter struct {
	orchestrator.NopCheckpointer

	config Config
	logger *zap.Logger

	mu   sync.Mutex // Serializes git operations on the repository
	repo *git.Repository
}

var _ orchestrator.Checkpointer = (*GitSnapshotter)(nil)

// New creates a snapshotter. The repository is opened or initialised lazily.
func New(cfg Config, logger *zap.Logger) *GitSnapshotter {
	if cfg.TagPrefix == "" {
		cfg.TagPrefix = "grape-coder"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "grape-coder"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "grape-coder@localhost"
	}
	return &GitSnapshotter{config: cfg, logger: logging.OrNop(logger)}
}

// open returns the repository, initialising it with a .gitignore when the
// work directory is not yet a repository. Callers hold mu.
func (s *GitSnapshotter) open() (*git.Repository, error) {
	if s.repo != nil {
		return s.repo, nil
	}

	repo, err := git.PlainOpen(s.config.RepoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(s.config.RepoPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", s.config.RepoPath, err)
		}
		repo, err = git.PlainInit(s.config.RepoPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to init repository: %w", err)
		}
		ignore := filepath.Join(s.config.RepoPath, ".gitignore")
		if _, statErr := os.Stat(ignore); errors.Is(statErr, os.ErrNotExist) {
			if err := os.WriteFile(ignore, []byte(defaultIgnore), 0644); err != nil {
				return nil, fmt.Errorf("failed to write .gitignore: %w", err)
			}
		}
		s.logger.Info("initialised snapshot repository", zap.String("path", s.config.RepoPath))
	} else if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	s.repo = repo
	return repo, nil
}

// BeginRun makes sure the repository exists before the first revision.
func (s *GitSnapshotter) BeginRun(ctx context.Context, runID string, brief orchestrator.DesignBrief, workDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.open()
	return err
}

// SaveRevision commits the whole work directory and tags the commit with
// the run and revision.
func (s *GitSnapshotter) SaveRevision(ctx context.Context, runID string, artifact orchestrator.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := fmt.Sprintf("%s: revision %d", runID, artifact.Revision)
	if line := firstLine(artifact.Summary); line != "" {
		msg += "\n\n" + line
	}
	hash, err := s.commit(msg, artifact.CreatedAt)
	if err != nil {
		return err
	}

	tag := s.tagName(runID, strconv.Itoa(artifact.Revision))
	if err := s.setTag(tag, hash); err != nil {
		return err
	}
	s.logger.Debug("revision committed",
		zap.String("run_id", runID),
		zap.Int("revision", artifact.Revision),
		zap.String("commit", hash.String()))
	return nil
}

// FinishRun tags the last good revision of a run that produced one.
func (s *GitSnapshotter) FinishRun(ctx context.Context, runID string, result orchestrator.Result, runErr error) error {
	if result.Artifact.Revision == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	rev, err := repo.Reference(plumbing.NewTagReferenceName(s.tagName(runID, strconv.Itoa(result.Artifact.Revision))), true)
	if err != nil {
		return fmt.Errorf("revision %d of %s: %w", result.Artifact.Revision, runID, ErrNoSnapshot)
	}
	return s.setTag(s.tagName(runID, "final"), rev.Hash())
}

func (s *GitSnapshotter) commit(msg string, when time.Time) (plumbing.Hash, error) {
	repo, err := s.open()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to stage files: %w", err)
	}

	if when.IsZero() {
		when = time.Now()
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.config.AuthorName,
			Email: s.config.AuthorEmail,
			When:  when,
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to commit: %w", err)
	}
	return hash, nil
}

// setTag points a lightweight tag at hash, moving it if it already exists.
func (s *GitSnapshotter) setTag(name string, hash plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), hash)
	if err := s.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("failed to tag %s: %w", name, err)
	}
	return nil
}

func (s *GitSnapshotter) tagName(runID, suffix string) string {
	if suffix != "final" {
		suffix = "rev-" + suffix
	}
	return s.config.TagPrefix + "/" + runID + "/" + suffix
}

// List returns the revisions committed for a run in revision order. The
// final tag, when present, comes last with Revision 0.
func (s *GitSnapshotter) List(runID string) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	refs, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer refs.Close()

	prefix := s.config.TagPrefix + "/" + runID + "/"
	var revs []Info
	var final *Info
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		suffix, ok := strings.CutPrefix(name, prefix)
		if !ok {
			return nil
		}
		commit, err := repo.CommitObject(ref.Hash())
		if err != nil {
			return fmt.Errorf("failed to read commit for %s: %w", name, err)
		}
		info := Info{RunID: runID, Tag: name, Hash: ref.Hash().String(), Message: commit.Message, When: commit.Author.When}
		if suffix == "final" {
			final = &info
			return nil
		}
		n, err := strconv.Atoi(strings.TrimPrefix(suffix, "rev-"))
		if err != nil {
			return nil
		}
		info.Revision = n
		revs = append(revs, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(revs, func(i, j int) bool { return revs[i].Revision < revs[j].Revision })
	if final != nil {
		revs = append(revs, *final)
	}
	return revs, nil
}

// Restore checks out a committed revision into the work directory.
func (s *GitSnapshotter) Restore(runID string, revision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	ref, err := repo.Reference(plumbing.NewTagReferenceName(s.tagName(runID, strconv.Itoa(revision))), true)
	if err != nil {
		return fmt.Errorf("revision %d of %s: %w", revision, runID, ErrNoSnapshot)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: ref.Hash(), Force: true}); err != nil {
		return fmt.Errorf("failed to restore revision %d: %w", revision, err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
