package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemosyne/core/internal/git"
	"github.com/mnemosyne/core/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect managed worktrees",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent worktrees under .mnemosyne/worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := worktree.New(repoPath, git.NewRunner(repoPath))

		entries, err := mgr.ListWorktrees()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no managed worktrees")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %s\n", e.AgentID, e.Branch, e.Path)
		}
		return nil
	},
}

func init() {
	worktreeCmd.AddCommand(worktreeListCmd)
}
