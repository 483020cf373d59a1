package main

import (
	"fmt"
	"os"

	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/controlplane"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cfagents",
	Short: "cfagents - campaign finance agent orchestrator",
	Long: `cfagents coordinates the campaign-finance analysis agents: it loads the
agent and skill catalogs, runs task workflows and routes messages between
agents over a priority bus.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if settingsPath != "" {
			settings, err = config.LoadSettingsFromPath(settingsPath)
		} else {
			settings, err = config.LoadSettings()
		}
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("api") {
			apiAddr = "http://" + settings.Listen
		}
		return nil
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(controlplane.Version)
	},
}

var (
	apiAddr      string
	settingsPath string
	settings     *config.Settings
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7477", "API server address")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "Settings file (default ./cfagents.yaml or the user config dir)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
