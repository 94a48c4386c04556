package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vkharvest/pkg/auth"
	"vkharvest/pkg/config"
	"vkharvest/pkg/ui"
)

var forceInit bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage vkharvest configuration files.

Configuration is loaded from, highest priority first:
  - Command line flags
  - Environment variables (VKHARVEST_*, TOKEN)
  - .env in the working directory and ~/.vkharvest.env
  - Configuration file
  - Default values`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file with every option at its default value.

The file is created as '.vkharvest.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging every source. The access token is masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration, and check that the output and log
directories can be created.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)

	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".vkharvest.yaml"
	}

	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Output, "\nNext steps:")
	fmt.Fprintln(ui.Output, "1. Store a token with 'vkharvest auth login' (or set TOKEN)")
	fmt.Fprintln(ui.Output, "2. Run 'vkharvest config validate'")
	fmt.Fprintln(ui.Output, "3. Harvest with 'vkharvest --wall <name>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	display := *cfg
	if display.VK.AccessToken != "" {
		display.VK.AccessToken = auth.SanitizeAccount(&auth.Account{AccessToken: cfg.VK.AccessToken}).AccessToken
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Output)
	fmt.Fprint(ui.Output, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	var errs []error
	if err := os.MkdirAll(cfg.Output.BaseDirectory, 0755); err != nil {
		errs = append(errs, fmt.Errorf("cannot create output directory: %w", err))
	}
	for _, file := range []string{cfg.Logging.File, cfg.Logging.ErrorFile} {
		if file == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			errs = append(errs, fmt.Errorf("cannot create log directory: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if cfg.VK.AccessToken == "" {
		ui.PrintWarning("No access token configured; a stored account will be used")
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Output directory", cfg.Output.BaseDirectory)
	ui.PrintInfo("Page size", fmt.Sprint(cfg.Download.PageSize))
	ui.PrintInfo("Concurrent downloads", fmt.Sprint(cfg.Download.ConcurrentDownloads))
	ui.PrintInfo("Rate limit", fmt.Sprintf("%d requests/second", cfg.RateLimit.RequestsPerSecond))
	ui.PrintInfo("Log level", cfg.Logging.Level)
	return nil
}
