package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/srg/blimp"
)

var exampleForce bool

var exampleCmd = &cobra.Command{
	Use:   "example [dir]",
	Short: "Write an example profile and Lua script",
	Long: `Writes battery.yaml and battery.lua into dir (default: the current
directory). The profile publishes a scripted battery level, static device
information and an encrypted configuration characteristic.`,
	Example: `  blimp example demo && blimp serve demo/battery.yaml`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runExample,
}

func init() {
	exampleCmd.Flags().BoolVar(&exampleForce, "force", false, "Overwrite existing files")
}

func runExample(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	files := []struct {
		name    string
		content string
	}{
		{blimp.ExampleProfileName, blimp.ExampleProfile},
		{blimp.ExampleScriptName, blimp.ExampleScript},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if !exampleForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}
