// Package commands defines the oncochat command tree.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oncolife/chatbot/internal/cli/ui"
)

const version = "0.3.0"

// cfgFile overrides the default config location for every command.
var cfgFile string

// rootCmd is the root command
var rootCmd = &cobra.Command{
	Use:     "oncochat",
	Short:   "Daily symptom check-in chat for patients in treatment",
	Version: version,
	Long: `A terminal client for the OncoLife symptom check-in assistant. It resumes
today's conversation, renders each prompt as buttons, a checklist, a feeling
picker or free text, and sends your answers to the check-in service.`,
	Example: `  # Create a config file and point it at your server
  $ oncochat config init
  $ oncochat config show

  # Resume today's check-in
  $ oncochat chat

  # Start over with a fresh session in plain line mode
  $ oncochat chat --new --plain`,
}

// Execute executes the root command
func Execute() error {
	rootCmd.SetVersionTemplate(formatVersion())
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/oncochat/config.toml)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetUsageTemplate(usageTemplate())
	rootCmd.SetHelpTemplate(usageTemplate())
}

func usageTemplate() string {
	return `{{if .Long}}{{.Long}}

{{end}}` + ui.Styles.Bold.Render("USAGE") + `
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}

{{if .HasExample}}` + ui.Styles.Bold.Render("EXAMPLES") + `
{{.Example}}

{{end}}{{if .HasAvailableSubCommands}}` + ui.Styles.Bold.Render("COMMANDS") + `{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableLocalFlags}}` + ui.Styles.Bold.Render("OPTIONS") + `
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}` + ui.Styles.Bold.Render("GLOBAL OPTIONS") + `
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
}

func formatVersion() string {
	return fmt.Sprintf("oncochat version %s\n", version)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the client version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), formatVersion())
	},
}
