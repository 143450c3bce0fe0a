package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckExisting returns an error if dir already holds a council definition.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("council already initialized\n\nFound existing: %s\n\nUse 'council init --force' to overwrite it", path)
	}
	return nil
}
