package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blimp",
	Short: "Bluetooth Low Energy peripheral tool",
	Long: `Bluetooth Low Energy (BLE) peripheral-role tool that provides:

- Publish a GATT service tree described by a YAML profile
- Advertise a local name and service UUIDs
- Answer reads and writes with static values or Lua handlers
- Show the capability and permission flags a profile maps to

Ideal for firmware development, central-side testing, and BLE device emulation.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("blimp {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(flagsCmd)
	rootCmd.AddCommand(exampleCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level debug")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
