package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting checks if abyss.yml already exists.
// Returns an error if it does, nil otherwise
func CheckExisting() error {
	if _, err := os.Stat("abyss.yml"); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: abyss.yml\n\nUse 'abyss init --force' to reinitialize (this will overwrite existing configuration)")
	}

	return nil
}
