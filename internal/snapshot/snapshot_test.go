package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

func writeSite(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(body), 0644); err != nil {
		t.Fatalf("failed to write index.html: %v", err)
	}
}

func revision(n int, summary string) orchestrator.Artifact {
	return orchestrator.Artifact{Revision: n, EntryPoint: "index.html", Summary: summary, CreatedAt: time.Now()}
}

func TestSaveRevisionCommitsAndTags(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{RepoPath: dir, AuthorName: "Test User", AuthorEmail: "test@example.com"}, nil)
	ctx := context.Background()

	if err := s.BeginRun(ctx, "run-1", orchestrator.DesignBrief{}, dir); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".gitignore")); err != nil {
		t.Errorf("expected a .gitignore in a fresh repository: %v", err)
	}

	writeSite(t, dir, "<h1>v1</h1>")
	if err := s.SaveRevision(ctx, "run-1", revision(1, "first draft\nwith details")); err != nil {
		t.Fatalf("SaveRevision 1 failed: %v", err)
	}
	writeSite(t, dir, "<h1>v2</h1>")
	if err := s.SaveRevision(ctx, "run-1", revision(2, "fixed contrast")); err != nil {
		t.Fatalf("SaveRevision 2 failed: %v", err)
	}

	infos, err := s.List("run-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(infos))
	}
	if infos[0].Revision != 1 || infos[1].Revision != 2 {
		t.Errorf("expected revisions in order, got %d, %d", infos[0].Revision, infos[1].Revision)
	}
	if infos[0].Tag != "grape-coder/run-1/rev-1" {
		t.Errorf("unexpected tag: %s", infos[0].Tag)
	}
	if !strings.HasPrefix(infos[0].Message, "run-1: revision 1\n\nfirst draft") {
		t.Errorf("unexpected commit message: %q", infos[0].Message)
	}
	if strings.Contains(infos[0].Message, "with details") {
		t.Errorf("expected only the first summary line, got %q", infos[0].Message)
	}
	if infos[0].Hash == infos[1].Hash {
		t.Error("expected distinct commits per revision")
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("expected a git repository: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("failed to read HEAD: %v", err)
	}
	if head.Hash().String() != infos[1].Hash {
		t.Errorf("expected HEAD at revision 2")
	}
}

func TestSaveRevisionWithoutChanges(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{RepoPath: dir}, nil)
	ctx := context.Background()

	writeSite(t, dir, "<h1>same</h1>")
	if err := s.SaveRevision(ctx, "run-1", revision(1, "")); err != nil {
		t.Fatalf("SaveRevision 1 failed: %v", err)
	}
	if err := s.SaveRevision(ctx, "run-1", revision(2, "")); err != nil {
		t.Fatalf("an unchanged revision should still be recorded: %v", err)
	}

	infos, err := s.List("run-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(infos))
	}
}

func TestFinishRunTagsFinal(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{RepoPath: dir}, nil)
	ctx := context.Background()

	writeSite(t, dir, "<h1>v1</h1>")
	if err := s.SaveRevision(ctx, "run-1", revision(1, "")); err != nil {
		t.Fatal(err)
	}
	writeSite(t, dir, "<h1>v2</h1>")
	if err := s.SaveRevision(ctx, "run-1", revision(2, "")); err != nil {
		t.Fatal(err)
	}

	// The last good artifact is revision 1, e.g. after a failed revise.
	result := orchestrator.Result{Artifact: orchestrator.Artifact{Revision: 1}}
	if err := s.FinishRun(ctx, "run-1", result, nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	infos, err := s.List("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 2 revisions and a final tag, got %d", len(infos))
	}
	final := infos[2]
	if final.Tag != "grape-coder/run-1/final" || final.Hash != infos[0].Hash {
		t.Errorf("expected the final tag on revision 1, got %+v", final)
	}

	if err := s.FinishRun(ctx, "run-1", orchestrator.Result{}, errors.New("no artifact")); err != nil {
		t.Errorf("a run without an artifact should not be tagged: %v", err)
	}
	if err := s.FinishRun(ctx, "run-1", orchestrator.Result{Artifact: orchestrator.Artifact{Revision: 9}}, nil); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{RepoPath: dir}, nil)
	ctx := context.Background()

	writeSite(t, dir, "<h1>v1</h1>")
	if err := s.SaveRevision(ctx, "run-1", revision(1, "")); err != nil {
		t.Fatal(err)
	}
	writeSite(t, dir, "<h1>v2</h1>")
	if err := s.SaveRevision(ctx, "run-1", revision(2, "")); err != nil {
		t.Fatal(err)
	}

	if err := s.Restore("run-1", 1); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<h1>v1</h1>" {
		t.Errorf("expected revision 1 content, got %q", data)
	}

	if err := s.Restore("run-1", 5); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestRunsAreSeparated(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{RepoPath: dir}, nil)
	ctx := context.Background()

	writeSite(t, dir, "a")
	if err := s.SaveRevision(ctx, "run-a", revision(1, "")); err != nil {
		t.Fatal(err)
	}
	writeSite(t, dir, "b")
	if err := s.SaveRevision(ctx, "run-b", revision(1, "")); err != nil {
		t.Fatal(err)
	}

	a, err := s.List("run-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 1 || a[0].RunID != "run-a" {
		t.Errorf("expected only run-a snapshots, got %+v", a)
	}
}
