package main

import (
	"context"
	"flag"
	"fmt"
)

// runStatus reports a sprint's checkpointed progress and what the
// configured oracle backend's IsAvailable probe answers (the backend
// adapters answer without issuing a request).
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	configPath := fs.String("config", "forge.yaml", "path to forge.yaml")
	sprintID := fs.String("sprint", "", "sprint identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sprintID == "" {
		return fmt.Errorf("forge status: -sprint is required")
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
	cp, err := a.store.LoadCheckpoint(ctx, *sprintID)
	if err != nil {
		return fmt.Errorf("forge status: load checkpoint: %w", err)
	}

	fmt.Printf("oracle backend %s available: %v\n", cfg.Oracle.Backend, a.oracle.IsAvailable())
	fmt.Printf("sprint %s: %d task(s) planned\n", *sprintID, len(tasks))
	if cp == nil {
		fmt.Println("no build checkpoint yet")
		return nil
	}
	fmt.Printf("%d/%d task(s) completed\n", len(cp.CompletedTaskIDs), len(tasks))
	for _, r := range cp.TaskResults {
		state := "failed"
		if r.Success {
			state = "done"
		}
		fmt.Printf("  %-12s %-7s score=%.1f iterations=%d\n", r.TaskID, state, r.FinalScore, r.Iterations)
	}
	return nil
}
