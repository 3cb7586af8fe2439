package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mnemosyne/core/internal/agent"
	"github.com/mnemosyne/core/internal/config"
	"github.com/mnemosyne/core/internal/evolution"
	iexec "github.com/mnemosyne/core/internal/exec"
	"github.com/mnemosyne/core/internal/notifier"
	"github.com/mnemosyne/core/internal/orchestrator"
	"github.com/mnemosyne/core/internal/orchestrator/policy"
	"github.com/mnemosyne/core/internal/registry"
	"github.com/mnemosyne/core/internal/state"
	"github.com/mnemosyne/core/pkg/models"
)

var (
	agentCommand string
	itemTimeout  time.Duration
	itemPriority int
)

var runCmd = &cobra.Command{
	Use:   "run [description...]",
	Short: "Run work items through the orchestrator",
	Long: `Run submits one work item per description argument and drives the
orchestrator until every item reaches a terminal state. Each item is
executed by the configured agent command in an isolated worktree; the
command's exit code decides success.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		bridge := agent.NewProcessBridge(iexec.NewRunner(), agentCommand)

		reg := registry.New(cfg.Registry.TTL)
		if cfg.Registry.PersistPath != "" {
			if err := reg.EnablePersistence(cfg.Registry.PersistPath); err != nil {
				return fmt.Errorf("enable registry persistence: %w", err)
			}
		}

		pol := policy.Default()
		pol.Loop.MaxConcurrentAgents = cfg.Orchestrator.MaxConcurrentAgents
		pol.Loop.TickInterval = cfg.Orchestrator.TickInterval
		pol.Loop.TransientRetries = cfg.Orchestrator.TransientRetries
		pol.Review.MaxAttempts = cfg.Orchestrator.MaxReviewAttempts
		pol.Deadlock.InitialBackoff = cfg.Orchestrator.DeadlockBackoffMin
		pol.Deadlock.MaxBackoff = cfg.Orchestrator.DeadlockBackoffMax
		pol.Notify.PeriodicIntervalMinutes = cfg.Notifier.PeriodicIntervalMinutes
		pol.Idle.Window = cfg.Orchestrator.IdleWindow

		logger, err := orchestrator.NewDebugLogger(cfg.Logging.DebugLogPath)
		if err != nil {
			return err
		}
		defer logger.Close()

		o, err := orchestrator.New(
			orchestrator.RequiredConfig{RepoPath: repoPath, Bridge: bridge},
			orchestrator.WithPolicy(pol),
			orchestrator.WithRegistry(reg),
			orchestrator.WithLogger(logger),
			orchestrator.WithNotifierConfig(notifier.Config{
				Enabled:                 cfg.Notifier.Enabled,
				NotifyOnSave:            cfg.Notifier.NotifyOnSave,
				PeriodicIntervalMinutes: cfg.Notifier.PeriodicIntervalMinutes,
				SessionEndSummary:       cfg.Notifier.SessionEndSummary,
			}),
		)
		if err != nil {
			return err
		}

		items := make([]*models.WorkItem, 0, len(args))
		for _, desc := range args {
			item := models.NewWorkItem(desc, models.RoleExecutor, itemPriority, nil)
			item.Timeout = itemTimeout
			items = append(items, item)
		}
		if err := o.Submit(items); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Evolution.Enabled {
			stopEvolution, err := startEvolution(ctx, cfg, reg, o)
			if err != nil {
				return err
			}
			defer stopEvolution()
		}

		runErr := o.Run(ctx)

		for _, item := range o.Queue().Items() {
			switch item.State {
			case models.StateComplete:
				color.Green("✓ %s", item.Description)
			case models.StateError:
				color.Red("✗ %s: %s", item.Description, item.Error)
			default:
				color.Yellow("• %s (%s)", item.Description, item.State)
			}
		}

		return runErr
	},
}

// startEvolution wires the background maintenance jobs: tracker
// consolidation, stale-assignment decay, ready-set recalibration, and
// job-history archival, gated on the orchestrator's own idle window.
func startEvolution(ctx context.Context, cfg *config.Config, reg *registry.Registry, o *orchestrator.Orchestrator) (func(), error) {
	jobs, err := config.LoadJobConfigs(cfg.Evolution.JobsDir)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Evolution.HistoryDBPath
	if dbPath == "" {
		dbPath = state.ProjectDBPath(repoPath)
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open evolution history: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate evolution history: %w", err)
	}

	schedCfg := evolution.Config{
		IdleWindow:   cfg.Orchestrator.IdleWindow,
		PollInterval: cfg.Evolution.PollInterval,
		Jobs:         jobs,
	}
	sched := evolution.New(schedCfg, o.Activity(), db)

	maxAge := cfg.Registry.TTL
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	sched.RegisterJob(evolution.NewConsolidationJob(o.Tracker(), jobs["consolidation"].Interval, maxAge))
	sched.RegisterJob(evolution.NewLinkDecayJob(reg, jobs["link_decay"].Interval))
	sched.RegisterJob(evolution.NewImportanceRecalibrationJob(func() int {
		return len(o.Queue().GetReadyItems())
	}, jobs["importance_recalibration"].Interval))
	sched.RegisterJob(evolution.NewArchivalJob(sched, 1000, jobs["archival"].Interval))

	go func() {
		if err := sched.Start(ctx); err != nil {
			color.Yellow("evolution scheduler: %v", err)
		}
	}()

	return func() {
		sched.Stop()
		db.Close()
	}, nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func init() {
	runCmd.Flags().StringVar(&agentCommand, "agent-command", "claude", "Command executed per work item (receives the description as its final argument)")
	runCmd.Flags().DurationVar(&itemTimeout, "timeout", 15*time.Minute, "Per-item execution timeout")
	runCmd.Flags().IntVar(&itemPriority, "priority", 5, "Work item priority (0-10)")
}
