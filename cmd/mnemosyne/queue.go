package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mnemosyne/core/internal/queue"
	"github.com/mnemosyne/core/pkg/models"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect a work-item plan",
}

var queueInspectCmd = &cobra.Command{
	Use:   "inspect <plan.json>",
	Short: "Validate a plan file and print its dispatch order",
	Long: `Inspect loads a JSON array of work items, checks the dependency graph
for cycles and unknown references, and prints the order the orchestrator
would dispatch them in.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		var items []*models.WorkItem
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("parse plan: %w", err)
		}

		q := queue.New()
		for _, item := range items {
			if item.ID == "" {
				item.ID = models.NewWorkItemID()
			}
			if item.OriginalIntent == "" {
				item.OriginalIntent = item.Description
			}
			item.State = models.StateReady
			if err := q.Add(item); err != nil {
				color.Red("rejected: %s: %v", item.Description, err)
				return err
			}
		}

		fmt.Printf("%d item(s), phase %s\n", len(items), q.CurrentPhase())

		// Simulate dispatch rounds: drain ready items, complete them,
		// repeat until nothing is left.
		round := 1
		remaining := len(items)
		for remaining > 0 {
			ready := q.GetReadyItems()
			if len(ready) == 0 {
				color.Red("stuck: %d item(s) can never become ready", remaining)
				return fmt.Errorf("plan has unreachable items")
			}
			fmt.Printf("round %d:\n", round)
			for _, item := range ready {
				fmt.Printf("  [p%d] %s\n", item.Priority, item.Description)
				if err := q.MarkCompleted(item.ID); err != nil {
					return err
				}
				remaining--
			}
			round++
		}
		color.Green("plan is dispatchable in %d round(s)", round-1)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueInspectCmd)
}
