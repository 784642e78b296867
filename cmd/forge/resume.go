package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"forge.dev/forge/internal/phase/complete"
)

// runResume continues a previously interrupted build. scheduler.Run
// already resumes from the store's checkpoint automatically (that is its
// whole reason for existing), so resume is build's Execute call with a
// checkpoint-presence check up front purely to give a clearer error
// message than "no tasks" when there is nothing to resume.
func runResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	configPath := fs.String("config", "forge.yaml", "path to forge.yaml")
	sprintID := fs.String("sprint", "", "sprint identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sprintID == "" {
		return fmt.Errorf("forge resume: -sprint is required")
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
	cp, err := a.store.LoadCheckpoint(ctx, *sprintID)
	if err != nil {
		return fmt.Errorf("forge resume: load checkpoint: %w", err)
	}
	if cp == nil {
		return fmt.Errorf("forge resume: no checkpoint found for sprint %s; run forge build first", *sprintID)
	}

	tasks, err := sprintTasks(ctx, a.store, *sprintID)
	if err != nil {
		return err
	}

	sched := buildScheduler(cfg, a, *root)
	p := complete.New(*sprintID, tasks, sched, a.store)
	result, err := p.Execute(ctx)
	if err != nil {
		return fmt.Errorf("forge resume: %w", err)
	}
	fmt.Printf("resume %s: success=%v llmCalls=%d\n", *sprintID, result.Success, result.Metrics.LLMCalls)
	os.Exit(exitCode(result.Success))
	return nil
}
