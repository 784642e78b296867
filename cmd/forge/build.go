package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/forgeconfig"
	"forge.dev/forge/internal/iterator"
	"forge.dev/forge/internal/phase/complete"
	"forge.dev/forge/internal/phase/converge"
	"forge.dev/forge/internal/scheduler"
	"forge.dev/forge/internal/store"
	"forge.dev/forge/internal/workspace"
)

// runBuild runs every task belonging to a planned sprint through the
// scheduler until each converges, resuming from any prior checkpoint
// found in the store.
func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	configPath := fs.String("config", "forge.yaml", "path to forge.yaml")
	sprintID := fs.String("sprint", "", "sprint identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sprintID == "" {
		return fmt.Errorf("forge build: -sprint is required")
	}

	cfg, err := forgeConfigAt(*root, *configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, *root)
	if err != nil {
		return err
	}

	ctx := context.Background()
	tasks, err := sprintTasks(ctx, a.store, *sprintID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("forge build: sprint %s has no planned tasks; run forge plan first", *sprintID)
	}

	sched := buildScheduler(cfg, a, *root)
	p := complete.New(*sprintID, tasks, sched, a.store)

	canStart, err := p.CanStart(ctx)
	if err != nil {
		return err
	}
	if !canStart {
		return fmt.Errorf("forge build: sprint %s is not ready to build", *sprintID)
	}

	result, err := p.Execute(ctx)
	if err != nil {
		return fmt.Errorf("forge build: %w", err)
	}
	fmt.Printf("build %s: success=%v llmCalls=%d\n", *sprintID, result.Success, result.Metrics.LLMCalls)
	os.Exit(exitCode(result.Success))
	return nil
}

// sprintTasks resolves the backlog tasks belonging to sprintID's stories.
func sprintTasks(ctx context.Context, st store.Store, sprintID string) ([]domain.Task, error) {
	sprint, err := st.LoadSprint(ctx, sprintID)
	if err != nil {
		return nil, fmt.Errorf("forge: load sprint %s: %w", sprintID, err)
	}
	backlog, err := st.LoadBacklog(ctx)
	if err != nil {
		return nil, fmt.Errorf("forge: load backlog: %w", err)
	}
	stories := make(map[string]struct{}, len(sprint.Stories))
	for _, s := range sprint.Stories {
		stories[s] = struct{}{}
	}
	var tasks []domain.Task
	for _, t := range backlog.Tasks {
		if _, ok := stories[t.StoryID]; ok {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func buildScheduler(cfg forgeconfig.Config, a *app, root string) *scheduler.Scheduler {
	mode := scheduler.Sequential
	if cfg.Scheduler.Mode == string(scheduler.ParallelBatched) {
		mode = scheduler.ParallelBatched
	}
	schedCfg := scheduler.Config{Mode: mode, MaxParallelTasks: cfg.Scheduler.MaxParallelTasks}

	it := iterator.New(iterator.Config{
		MinScore:                 cfg.Iterator.MinScore,
		MinCoverage:              cfg.Iterator.MinCoverage,
		MaxIterations:            cfg.Iterator.MaxIterations,
		MinConvergenceIterations: cfg.Iterator.MinConvergenceIterations,
		ConvergenceThreshold:     cfg.Iterator.ConvergenceThreshold,
	})
	saver := workspace.New(root)
	runner := &converge.Runner{
		Deps: func(domain.Task) iterator.IterationDeps {
			return iterator.IterationDeps{Oracle: a.oracle, SaveFiles: saver}
		},
		It: it,
	}
	return scheduler.New(schedCfg, a.store, runner, nil, a.logger)
}
