package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/phase/orchestrate"
)

// runPlan turns a goal into a persisted task backlog: forge plan -sprint
// s1 -name "Widgets" "ship the widget feature".
func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	configPath := fs.String("config", "forge.yaml", "path to forge.yaml")
	sprintID := fs.String("sprint", "", "sprint identifier")
	name := fs.String("name", "", "sprint name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	goal := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *sprintID == "" || goal == "" {
		return fmt.Errorf("forge plan: -sprint and a goal argument are required")
	}

	cfg, err := forgeConfigAt(*root, *configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, *root)
	if err != nil {
		return err
	}

	sprint := domain.Sprint{
		ID:        *sprintID,
		Name:      *name,
		Goal:      goal,
		StartDate: now(),
		Status:    domain.SprintPlanning,
	}

	p := orchestrate.New(sprint, a.oracle, a.store)
	ctx := context.Background()
	canStart, err := p.CanStart(ctx)
	if err != nil {
		return err
	}
	if !canStart {
		return fmt.Errorf("forge plan: sprint %s is not ready to plan", *sprintID)
	}

	result, err := p.Execute(ctx)
	if err != nil {
		return fmt.Errorf("forge plan: %w", err)
	}
	for _, task := range p.Tasks() {
		fmt.Printf("%-12s %-10s %s\n", task.ID, task.Type, task.Title)
	}
	fmt.Printf("planned %d task(s) for sprint %s\n", len(p.Tasks()), *sprintID)
	os.Exit(exitCode(result.Success))
	return nil
}
