package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qopyapp/p2pcore/internal/config"
	"github.com/qopyapp/p2pcore/internal/ui"
)

var forceInit bool

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file without asking")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

// resolveConfigPath returns --config or the default location
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a new config file with a fresh device id",
	Long: `Write a config file with default settings and a newly generated device id.
Flags such as --name, --port and --backend are written into the file.`,
	Example: `  qopy-discover config init
  qopy-discover config init --name studio-mac --backend hashicorp`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}

		if _, err := os.Stat(path); err == nil && !forceInit {
			ok := ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Config exists",
				[]string{path, "A new device id will be generated; peers will see a new device"},
				"Overwrite it?")
			if !ok {
				return nil
			}
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}

		f := config.NewFile()
		applyOverrides(cmd, f)
		if err := f.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := f.Save(path); err != nil {
			return err
		}

		ui.NewPrinter(cmd.OutOrStdout()).PrintResult(ui.NewSuccessResult("Config written",
			ui.Param{Key: "Path", Value: path},
			ui.Param{Key: "Device ID", Value: f.DeviceID},
			ui.Param{Key: "Name", Value: f.Discovery.ServiceName},
		))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and flag overrides are applied.
Nothing is written to disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, f)
		}
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		data, err := f.Marshal(path)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	},
}
