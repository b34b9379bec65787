package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Checker runs read-only git queries in a working directory
type Checker struct {
	Dir string // Empty means the process working directory
}

// NewChecker creates a new Git checker rooted at dir
func NewChecker(dir string) *Checker {
	return &Checker{Dir: dir}
}

func (c *Checker) output(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = c.Dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// IsGitRepository checks if the directory is within a Git repository
func (c *Checker) IsGitRepository() (bool, error) {
	_, err := c.output("rev-parse", "--git-dir")
	if err != nil {
		// Check if error is because git command not found
		if _, ok := err.(*exec.Error); ok {
			return false, fmt.Errorf("git not found in PATH\nInstall Git: https://git-scm.com/downloads")
		}
		// Not in a Git repository
		return false, nil
	}
	return true, nil
}

// GetGitRoot returns the absolute path to the Git repository root
func (c *Checker) GetGitRoot() (string, error) {
	root, err := c.output("rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("failed to get Git root: %w", err)
	}
	return root, nil
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
// Works in a repository with no commits yet.
func (c *Checker) CurrentBranch() (string, error) {
	branch, err := c.output("symbolic-ref", "--short", "-q", "HEAD")
	if err == nil && branch != "" {
		return branch, nil
	}
	if _, err := c.output("rev-parse", "--verify", "-q", "HEAD"); err == nil {
		return "HEAD", nil
	}
	return "", fmt.Errorf("failed to determine current branch")
}

// LastCommit returns "<short hash> <subject>" of HEAD, or "" when there are no commits.
func (c *Checker) LastCommit() string {
	out, err := c.output("log", "-1", "--format=%h %s")
	if err != nil {
		return ""
	}
	return out
}

// GetDirtyFiles returns a formatted list of uncommitted changes.
// Returns empty string if workspace is clean.
func (c *Checker) GetDirtyFiles() (string, error) {
	porcelain, err := c.output("status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("failed to check Git status: %w", err)
	}
	if porcelain == "" {
		return "", nil
	}

	var modified, untracked []string
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 3 {
			continue
		}
		status := line[:2]
		file := strings.TrimSpace(line[2:])

		if strings.HasPrefix(status, "??") {
			untracked = append(untracked, file)
		} else {
			modified = append(modified, file)
		}
	}

	var parts []string
	if len(modified) > 0 {
		parts = append(parts, "Uncommitted changes:")
		for _, file := range modified {
			parts = append(parts, fmt.Sprintf(" M %s", file))
		}
	}
	if len(untracked) > 0 {
		if len(parts) > 0 {
			parts = append(parts, "")
		}
		parts = append(parts, "Untracked files:")
		for _, file := range untracked {
			parts = append(parts, fmt.Sprintf("?? %s", file))
		}
	}

	return strings.Join(parts, "\n"), nil
}

// BranchInfo renders a short report of the branch, last commit and
// working tree state, as sent in reply to a "branch" query.
func (c *Checker) BranchInfo() (string, error) {
	branch, err := c.CurrentBranch()
	if err != nil {
		return "", err
	}
	lines := []string{fmt.Sprintf("🌿 Branch: %s", branch)}
	if commit := c.LastCommit(); commit != "" {
		lines = append(lines, fmt.Sprintf("Last commit: %s", commit))
	} else {
		lines = append(lines, "Last commit: (none)")
	}
	dirty, err := c.GetDirtyFiles()
	if err != nil {
		return "", err
	}
	if dirty == "" {
		lines = append(lines, "Working tree: clean")
	} else {
		lines = append(lines, dirty)
	}
	return strings.Join(lines, "\n"), nil
}
