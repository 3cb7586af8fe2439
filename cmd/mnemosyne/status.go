package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mnemosyne/core/internal/git"
	"github.com/mnemosyne/core/internal/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show branch assignments and repository state",
	Long: `Status prints the current branch, uncommitted-change state, and any
branch assignments recorded in the registry's persistence file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		runner := git.NewRunner(repoPath)

		branch, err := runner.CurrentBranch()
		if err != nil {
			return fmt.Errorf("read current branch: %w", err)
		}
		fmt.Printf("branch: %s\n", color.CyanString(branch))

		dirty, err := runner.HasChanges()
		if err != nil {
			return err
		}
		if dirty {
			color.Yellow("working tree: uncommitted changes")
		} else {
			fmt.Println("working tree: clean")
		}

		if cfg.Registry.PersistPath == "" {
			fmt.Println("registry: persistence not configured")
			return nil
		}
		if _, err := os.Stat(cfg.Registry.PersistPath); os.IsNotExist(err) {
			fmt.Println("registry: no persisted assignments")
			return nil
		}

		reg := registry.New(cfg.Registry.TTL)
		if err := reg.LoadFrom(cfg.Registry.PersistPath); err != nil {
			return fmt.Errorf("load registry: %w", err)
		}

		assignments := reg.GetAssignments(branch)
		if len(assignments) == 0 {
			fmt.Printf("registry: no assignments on %s\n", branch)
			return nil
		}
		fmt.Printf("registry: %d assignment(s) on %s\n", len(assignments), branch)
		for _, a := range assignments {
			fmt.Printf("  %s  mode=%s intent=%s since=%s\n",
				a.AgentID, a.Mode, a.Intent, a.AssignedAt.Format("15:04:05"))
		}
		return nil
	},
}
