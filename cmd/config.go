package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/waycursor/internal/config"
	"github.com/bnema/waycursor/internal/logger"
	"github.com/bnema/waycursor/internal/ui"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage waycursor configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		searchPaths := strings.Join(cfg.Cursor.SearchPaths, ":")
		lines := []string{
			ui.FormatAppHeader("CONFIGURATION", config.GetConfigPath()),
			"",
			ui.FormatSection("display"),
			ui.FormatKeyValue("socket", cfg.Display.Socket),
			"",
			ui.FormatSection("cursor"),
			ui.FormatKeyValue("search_paths", searchPaths),
			"",
			ui.FormatSection("logging"),
			ui.FormatKeyValue("log_level", cfg.Logging.LogLevel),
		}

		_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
		return err
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save current configuration to file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration saved to: %s", config.GetConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
	rootCmd.AddCommand(configCmd)
}
