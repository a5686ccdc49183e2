package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentBackend verifies the configured agent backend command is
// available in PATH. Returns an error with setup instructions if not found.
func CheckAgentBackend(command string) error {
	if command == "" {
		return fmt.Errorf("no agent backend configured\n\n" +
			"Set agents.command in your config file or export\n" +
			"OVERSEER_AGENTS_COMMAND to the coding-agent executable.")
	}
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("agent backend %q not found in PATH\n\n"+
			"Overseer launches one backend process per task. Install the\n"+
			"backend or point agents.command at its executable.", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Parallel coding-agent orchestrator",
	Long: `Overseer runs a plan of dependent tasks across parallel coding agents.

Tasks form a dependency graph; each ready task is handed to an isolated
agent in its own repository clone. Completed work is reviewed by an
AI project manager, merged onto the main line, and merge conflicts are
retried with dedicated resolver agents before a human is asked to step in.

Core capabilities:
- Schedules tasks as their dependencies merge
- Spawns isolated agents in per-task clones
- Reviews completions with an AI PM before merging
- Resolves merge conflicts with bounded automated retries
- Escalates unanswerable questions to the human operator`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(versionCmd)
}
