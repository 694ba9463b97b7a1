package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/scaffold"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Abyss project",
	Long: `Initialize a new Abyss project with a starter configuration.

Creates:
  • abyss.yml - Render configuration pointing at a classic deep-zoom view

Use --force to reinitialize an existing project (WARNING: overwrites the existing configuration).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing abyss.yml)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	// Check for existing files (unless --force)
	if !forceInit {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()

	return nil
}
