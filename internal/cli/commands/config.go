package commands

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/oncolife/chatbot/internal/cli/config"
	"github.com/oncolife/chatbot/internal/cli/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "manage the client configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "write a config file with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		ui.PrintSuccess("Config file created at: %s", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, used, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if used == "" {
			fmt.Fprintln(out, "# no config file found, showing defaults and environment overrides")
		} else {
			fmt.Fprintf(out, "# %s\n", used)
		}

		shown := *cfg
		shown.Token = config.MaskToken(cfg.Token)
		return toml.NewEncoder(out).Encode(shown)
	},
}

func init() {
	configInitCmd.SilenceUsage = true
	configShowCmd.SilenceUsage = true
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
