package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/deps"
	"github.com/fakeyudi/wolf/internal/prompt"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure wolf (re-run anytime to edit settings)",
	// Skip the root hook so setup works before any config exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd, false)
	},
}

// runSetup runs the interactive wizard and saves the global config.
func runSetup(cmd *cobra.Command, firstRun bool) error {
	out := cmd.OutOrStdout()
	if firstRun {
		fmt.Fprintln(out, "  Let's get you set up.")
	}

	existing, err := config.LoadGlobal()
	if err != nil {
		// An unreadable file is replaced, not merged.
		fmt.Fprintf(out, "  Ignoring existing config: %v\n", err)
		existing = nil
	}

	p := prompt.New(cmd.InOrStdin(), out)
	c, err := p.Setup(existing)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	if err := config.SaveGlobal(c); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintln(out, "  ✓ Config saved.")

	if !deps.IsInstalled() {
		install, err := p.Confirm(fmt.Sprintf("  Install the %s tracing package now", deps.Package), true)
		if err != nil {
			return fmt.Errorf("setup cancelled: %w", err)
		}
		if install {
			if err := newInstaller(*c).Install(cmd.Context()); err != nil {
				fmt.Fprintf(out, "  ⚠ Install failed: %v\n", err)
				fmt.Fprintln(out, "    wolf retries automatically the first time a trace needs it.")
			} else {
				fmt.Fprintf(out, "  ✓ %s installed.\n", deps.Package)
			}
		}
	}

	fmt.Fprintln(out, "  Setup complete. Run 'wolf start <file>' to begin tracing.")
	fmt.Fprintln(out)
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
