// Package workspace finds the coordination root shared by every agent
// working on a repository.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/lodge/internal/git"
	"github.com/dyluth/lodge/pkg/board"
)

// Resolve returns the canonical coordination root.
// Precedence: explicit (flag or LODGE_ROOT) > nearest ancestor of start that
// already has a .lodge directory > Git repository root > start itself.
func Resolve(explicit, start string) (string, error) {
	if explicit != "" {
		return canonical(explicit)
	}
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		start = wd
	}
	start, err := canonical(start)
	if err != nil {
		return "", err
	}

	if found := findUp(start); found != "" {
		return found, nil
	}

	checker := git.NewChecker(start)
	if ok, _ := checker.IsGitRepository(); ok {
		if root, err := checker.GetGitRoot(); err == nil {
			return canonical(root)
		}
	}
	return start, nil
}

// findUp returns the nearest directory at or above dir containing .lodge, or "".
func findUp(dir string) string {
	for {
		info, err := os.Stat(filepath.Join(dir, board.DirName))
		if err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// canonical makes path absolute and resolves symlinks so that every agent
// names the same root identically.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("coordination root %s does not exist", abs)
		}
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	return resolved, nil
}
