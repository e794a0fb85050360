package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/mailgate/internal/config"
)

// rootCmd represents the base command for the mailgate application
var rootCmd = &cobra.Command{
	Use:   "mailgate",
	Short: "Outlook mailbox assistant for AI agents with human-confirmed actions",
	Long: `mailgate gives an AI assistant access to an Outlook mailbox through
Microsoft Graph API. Reading is direct; sending mail, changing the calendar,
contacts or mailbox rules is held until a human approves the exact action.

It can run as:
  - An MCP (Model Context Protocol) server for AI assistants (serve)
  - A standalone browser confirmation service (confirm-server)
  - A local login and credential manager (auth)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// configPath is the --config flag shared by all commands.
var configPath string

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration. Startup fails closed on
// any configuration problem.
func loadConfig(mutate func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (default: "+config.DefaultConfigPath()+")")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newConfirmServerCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
