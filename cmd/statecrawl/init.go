package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/statecrawl/internal/config"
)

//go:embed templates/statecrawl.yaml
var configTemplate embed.FS

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new crawl rules file",
		Long: `Initialize creates a new .statecrawl crawl rules file in the current directory.

The generated file documents every rule with its default value:
- Attributes ignored when states are compared
- Click and don't-click element rules
- Frame handling, settle delays and crawl limits
- Commented examples for per-site overrides

Examples:
  # Create .statecrawl in current directory
  statecrawl init

  # Create the rules file in the XDG config directory
  statecrawl init --global

  # Create config file at a specific path
  statecrawl init -o rules.yaml

  # Force overwrite existing file
  statecrawl init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the crawl rules")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing file")
	cmd.Flags().BoolP("global", "g", false,
		"Write config.yaml into the XDG config directory")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	global, err := cmd.Flags().GetBool("global")
	if err != nil {
		return err
	}
	if global {
		if cmd.Flags().Changed("output") {
			return fmt.Errorf("--global and --output cannot be used together")
		}
		outputPath = filepath.Join(config.XDGConfigDir(), "config.yaml")
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile("templates/statecrawl.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created crawl rules file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to tune the crawl, for example:")
	fmt.Fprintln(out, "  - Attributes to ignore when comparing states")
	fmt.Fprintln(out, "  - Which elements to click and which to leave alone")
	fmt.Fprintln(out, "  - Per-site limits and settle delays")
	return nil
}
