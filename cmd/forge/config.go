package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// runConfig prints the effective configuration (forge.yaml layered with
// environment overrides) so a user can confirm what forge build will
// actually run with before it spends an oracle call.
func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	configPath := fs.String("config", "forge.yaml", "path to forge.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := forgeConfigAt(*root, *configPath)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("forge config: marshal: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
