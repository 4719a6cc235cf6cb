package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Set by the release build through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion prefixes numeric release versions with "v".
func formatVersion(ver string) string {
	if ver != "" && strings.ContainsRune("0123456789", rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "blefit",
	Short: "Discover BLE fitness sensors and watch filtered readings",
	Long: `blefit finds Bluetooth Low Energy fitness sensors and shows their readings through filters.

  scan     list nearby sensors of one category (heart-rate, bike-power, run-speed, ...)
  monitor  connect to sensors and print filtered values (averages, maxima, time windows)

Filters can be given with --filter or in the YAML file passed with --config; the file is
watched and filter changes apply without a restart.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Log level (debug, info, warn, error); silent when unset")
	flags.StringP("config", "c", "", "YAML config file (timeouts, wheel size, filters)")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(scanCmd, monitorCmd)
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return
	default:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
