// Package git provides the small set of git operations the console needs
// for quick commits from a session's working directory.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNothingToCommit is returned by QuickCommit when the tree is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

// IsGitRepo checks if the given directory is inside a git repository
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--git-dir")
	err := cmd.Run()
	return err == nil
}

// GetRepoRoot returns the root directory of the git repository containing dir
func GetRepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GetCurrentBranch returns the current branch name for the repository at dir
func GetCurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasUncommittedChanges reports whether the working tree at dir is dirty.
func HasUncommittedChanges(dir string) (bool, error) {
	cmd := exec.Command("git", "-C", dir, "status", "--porcelain")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return strings.TrimSpace(string(output)) != "", nil
}

// ShortStatus returns the porcelain status lines for dir, one per changed file.
func ShortStatus(dir string) ([]string, error) {
	cmd := exec.Command("git", "-C", dir, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get git status: %w", err)
	}
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// QuickCommit stages everything under dir and commits with the given
// message. Returns ErrNothingToCommit when the tree is already clean.
func QuickCommit(dir, message string) error {
	if message == "" {
		return errors.New("commit message cannot be empty")
	}

	dirty, err := HasUncommittedChanges(dir)
	if err != nil {
		return err
	}
	if !dirty {
		return ErrNothingToCommit
	}

	cmd := exec.Command("git", "-C", dir, "add", "-A")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	cmd = exec.Command("git", "-C", dir, "commit", "-m", message)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// HeadSummary returns the one-line summary of the HEAD commit.
func HeadSummary(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "log", "-1", "--format=%h %s")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
