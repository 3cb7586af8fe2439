package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var (
	configPath string // explicit config file, bypassing XDG/project discovery
	repoPath   string // git repository to orchestrate
)

var rootCmd = &cobra.Command{
	Use:   "mnemosyne",
	Short: "Multi-Agent Orchestration Engine",
	Long: `Mnemosyne coordinates concurrent coding agents over a shared git repository.

Core capabilities:
- Turns work descriptions into a dependency graph of work items
- Dispatches each item to an agent in an isolated git worktree
- Enforces branch-level isolation via coordination modes
- Detects and reports cross-agent file conflicts
- Re-enqueues review-rejected items with consolidated feedback

Available commands:
  run       Run work items through the orchestrator
  status    Show the current branch and branch assignments
  worktree  Inspect managed worktrees
  queue     Inspect a work-item plan
  version   Show version information
  help      Help about any command

Use "mnemosyne [command] --help" for more information about a command.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Set version for --version flag
	rootCmd.Version = Version()

	// Add global persistent flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: XDG config, then .mnemosyne.yaml)")
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "C", ".", "Path to the git repository to orchestrate")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(worktreeCmd)
	rootCmd.AddCommand(queueCmd)
}
