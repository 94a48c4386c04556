package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"vkharvest/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	noColor    bool
	quiet      bool
)

// rootCmd harvests when given collections and otherwise shows help
var rootCmd = &cobra.Command{
	Use:   "vkharvest",
	Short: "Download every photo from VK walls, bookmarks and chats",
	Long: `vkharvest downloads the photos attached to VK walls, to your bookmarked
posts and to conversations, page by page, into a local directory.

Photos already present on disk are never downloaded again, so an interrupted
harvest can simply be run again.

An access token is required. Store one with 'vkharvest auth login', or set
TOKEN (or VKHARVEST_ACCESS_TOKEN) in the environment or a .env file.`,
	Example: `  # Harvest a wall, your bookmarks and a group chat
  vkharvest --wall durov --fave --chat c12

  # Harvest into a different directory with larger pages
  vkharvest -p ./photos -c 100 --wall id1 --wall apiclub`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !ui.IsTerminal(os.Stdout) {
			ui.SetColors(false)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !harvestRequested(cmd) {
			return cmd.Help()
		}
		return runHarvest(cmd, args)
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./.vkharvest.yaml or ~/.config/vkharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, critical)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write all log records to this file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "no progress bars, log errors only")

	rootCmd.SetVersionTemplate(`vkharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
