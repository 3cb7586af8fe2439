// Package orchestrator manages the coordination of agents and workflows.
package orchestrator

import (
	"github.com/mnemosyne/core/internal/agent"
	"github.com/mnemosyne/core/internal/coordinator"
	"github.com/mnemosyne/core/internal/evolution"
	"github.com/mnemosyne/core/internal/git"
	"github.com/mnemosyne/core/internal/notifier"
	"github.com/mnemosyne/core/internal/orchestrator/policy"
	"github.com/mnemosyne/core/internal/registry"
)

// RequiredConfig contains the minimal required configuration for an
// Orchestrator. All fields are required and have no defaults.
type RequiredConfig struct {
	// RepoPath is the path to the git repository.
	RepoPath string
	// Bridge executes work items on behalf of the orchestrator.
	Bridge agent.AgentBridge
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	policyConfig   *policy.Config
	logger         *DebugLogger
	sink           EventSink
	reviewer       agent.Reviewer
	coordinator    *coordinator.Coordinator
	registry       *registry.Registry
	gitRunner      git.Runner
	notifierConfig *notifier.Config
	activity       *evolution.ActivityTracker
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *orchestratorOptions) { o.policyConfig = p }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithEventSink sets the external event sink.
func WithEventSink(s EventSink) Option {
	return func(o *orchestratorOptions) { o.sink = s }
}

// WithReviewer sets the reviewer consulted after each execution. Without
// one, items complete as soon as execution succeeds.
func WithReviewer(r agent.Reviewer) Option {
	return func(o *orchestratorOptions) { o.reviewer = r }
}

// WithCoordinator sets the cross-process coordinator for peer messaging.
func WithCoordinator(c *coordinator.Coordinator) Option {
	return func(o *orchestratorOptions) { o.coordinator = c }
}

// WithRegistry sets a pre-configured branch registry (e.g. one with
// persistence enabled or a custom TTL).
func WithRegistry(r *registry.Registry) Option {
	return func(o *orchestratorOptions) { o.registry = r }
}

// WithGitRunner sets the git runner, mainly for testing.
func WithGitRunner(r git.Runner) Option {
	return func(o *orchestratorOptions) { o.gitRunner = r }
}

// WithNotifierConfig sets the conflict notifier configuration.
func WithNotifierConfig(cfg notifier.Config) Option {
	return func(o *orchestratorOptions) { o.notifierConfig = &cfg }
}

// WithActivityTracker shares an activity tracker with the Evolution
// Scheduler so its idle gate sees this orchestrator's dispatch activity.
func WithActivityTracker(a *evolution.ActivityTracker) Option {
	return func(o *orchestratorOptions) { o.activity = a }
}
