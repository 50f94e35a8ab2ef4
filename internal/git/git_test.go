package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initTestRepo creates a git repo with one initial commit.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, output)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestIsGitRepo(t *testing.T) {
	dir := initTestRepo(t)
	if !IsGitRepo(dir) {
		t.Error("expected repo to be detected")
	}
	if IsGitRepo(os.TempDir()) {
		t.Skip("tempdir unexpectedly inside a git repo")
	}
}

func TestGetRepoRootAndBranch(t *testing.T) {
	dir := initTestRepo(t)

	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	root, err := GetRepoRoot(sub)
	if err != nil {
		t.Fatalf("GetRepoRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(root)
	if got != want {
		t.Errorf("root = %q, want %q", got, want)
	}

	branch, err := GetCurrentBranch(dir)
	if err != nil {
		t.Fatalf("GetCurrentBranch: %v", err)
	}
	if branch != "main" {
		t.Errorf("branch = %q, want main", branch)
	}
}

func TestQuickCommit(t *testing.T) {
	dir := initTestRepo(t)

	// Clean tree: nothing to commit.
	if err := QuickCommit(dir, "noop"); err != ErrNothingToCommit {
		t.Fatalf("expected ErrNothingToCommit, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "work.txt"), []byte("wip\n"), 0644); err != nil {
		t.Fatal(err)
	}
	dirty, err := HasUncommittedChanges(dir)
	if err != nil {
		t.Fatalf("HasUncommittedChanges: %v", err)
	}
	if !dirty {
		t.Fatal("expected dirty tree")
	}

	if err := QuickCommit(dir, "checkpoint before slow build"); err != nil {
		t.Fatalf("QuickCommit: %v", err)
	}

	dirty, err = HasUncommittedChanges(dir)
	if err != nil {
		t.Fatalf("HasUncommittedChanges: %v", err)
	}
	if dirty {
		t.Error("tree still dirty after commit")
	}

	summary, err := HeadSummary(dir)
	if err != nil {
		t.Fatalf("HeadSummary: %v", err)
	}
	if !strings.Contains(summary, "checkpoint before slow build") {
		t.Errorf("summary = %q", summary)
	}
}

func TestQuickCommitEmptyMessage(t *testing.T) {
	dir := initTestRepo(t)
	if err := QuickCommit(dir, ""); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestShortStatus(t *testing.T) {
	dir := initTestRepo(t)

	lines, err := ShortStatus(dir)
	if err != nil {
		t.Fatalf("ShortStatus: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected clean status, got %v", lines)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	lines, err = ShortStatus(dir)
	if err != nil {
		t.Fatalf("ShortStatus: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "a.txt") {
		t.Errorf("status = %v", lines)
	}
}
