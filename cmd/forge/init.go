package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"forge.dev/forge/internal/forgeconfig"
	"forge.dev/forge/internal/store"
	"forge.dev/forge/internal/telemetry"
)

// runInit scaffolds a new project: a default forge.yaml and an empty
// backlog under the store's planning/ tree, so forge plan has a project
// root to write into.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	root := fs.String("root", ".", "project root to scaffold")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *root + "/forge.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("forge init: %s already exists", path)
	}

	data, err := yaml.Marshal(forgeconfig.Default())
	if err != nil {
		return fmt.Errorf("forge init: marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("forge init: write %s: %w", path, err)
	}

	cfg, err := forgeconfig.Load(path)
	if err != nil {
		return err
	}
	st, err := buildStore(cfg, *root, telemetry.NewClueLogger("forge"))
	if err != nil {
		return err
	}
	if err := st.SaveBacklog(context.Background(), store.Backlog{}); err != nil {
		return fmt.Errorf("forge init: seed backlog: %w", err)
	}

	fmt.Printf("initialized forge project at %s\n", *root)
	return nil
}
