package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/lodge/internal/config"
)

// CheckExisting returns an error if root already has a lodge.yml.
// An existing .lodge directory alone is fine: agents may have started
// coordinating before anyone wrote a config file.
func CheckExisting(root string) error {
	if _, err := os.Stat(filepath.Join(root, config.FileName)); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'lodge init --force' to reinitialize (this will overwrite existing configuration)", config.FileName)
	}
	return nil
}
