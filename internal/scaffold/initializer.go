package scaffold

import (
	"embed"
	"fmt"
	"os"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// Initialize creates a starter abyss.yml in the current directory.
// If force is true, it will remove an existing abyss.yml first.
func Initialize(force bool) error {
	// Handle --force flag
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	content, err := templatesFS.ReadFile("templates/abyss.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read abyss.yml template: %w", err)
	}

	if err := os.WriteFile("abyss.yml", content, 0644); err != nil {
		return fmt.Errorf("failed to write abyss.yml: %w", err)
	}

	// Validate the created file loads cleanly
	if _, err := config.Load("abyss.yml"); err != nil {
		return fmt.Errorf("created abyss.yml does not load: %w", err)
	}

	return nil
}

// handleForce removes the existing config if --force was specified
func handleForce() error {
	if _, err := os.Stat("abyss.yml"); err == nil {
		fmt.Println("⚠️  Removing existing abyss.yml...")
		if err := os.Remove("abyss.yml"); err != nil {
			return fmt.Errorf("failed to remove abyss.yml: %w", err)
		}
	}

	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized Abyss project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ abyss.yml")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point view.center_x / center_y / zoom at a spot you like")
	fmt.Println("  2. Run 'abyss plan' to see the precision strategy for that view")
	fmt.Println("  3. Run 'abyss render' to produce the PNG")
}
