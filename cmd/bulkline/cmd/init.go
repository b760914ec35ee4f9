/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ssargent/bulkline/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a bulkline configuration file",
	Long: `Create a configuration file with a generated API key.

With --data-dir the files, journal and archive sinks are enabled below that
directory. An existing file is left alone unless --force is given.

Examples:
  bulkline init
  bulkline init --data-dir ./data --config ./bulkline.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		force, _ := cmd.Flags().GetBool("force")
		printKey, _ := cmd.Flags().GetBool("print-key")

		path := configPath
		if path == "" {
			path = config.GetDefaultConfigPath()
		}

		created, err := initConfig(path, dataDir, force)
		if err != nil {
			return err
		}
		if created == nil {
			cmd.Printf("Configuration already exists at %s. Use --force to overwrite.\n", path)
			return nil
		}

		cmd.Printf("Configuration created at %s\n", path)
		if printKey {
			cmd.Printf("API key: %s\n", created.APIKey)
		}
		return nil
	},
}

// initConfig bootstraps the config at path. It returns nil, nil when a config
// already exists and force is not set.
func initConfig(path, dataDir string, force bool) (*config.Config, error) {
	if config.ConfigExists(path) && !force {
		return nil, nil
	}
	created, err := config.BootstrapConfig(path, dataDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap config: %w", err)
	}
	return created, nil
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("data-dir", "", "Directory for bulk files, journal and archive (sinks stay off when empty)")
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	initCmd.Flags().Bool("print-key", false, "Print the generated API key")
}
