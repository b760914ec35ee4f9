/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ssargent/bulkline/pkg/config"
	"github.com/ssargent/bulkline/pkg/di"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded by the root command before any subcommand runs
	cfg *config.Config

	// newContainer builds the pipeline; tests replace it
	newContainer = di.NewContainer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bulkline",
	Short: "bulkline - line-oriented bulk ingestion",
	Long: `bulkline splits byte streams into newline-terminated records, groups
them into fixed-size bulks and hands every bulk to the configured sinks
(console, per-bulk files, an append-only journal and a Pebble archive).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		cfg = loaded
		return nil
	},
}

// loadConfig reads the config at path. A missing file yields defaults unless
// the path was given explicitly.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if !config.ConfigExists(path) {
		if explicit {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default ~/.config/bulkline/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}
