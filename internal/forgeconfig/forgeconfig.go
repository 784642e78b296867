// Package forgeconfig loads forge.yaml and merges it with environment
// variable overrides, the same env-first convention the teacher's own
// cmd/* binaries use for their configuration.
package forgeconfig

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// OracleConfig selects and configures one oracle backend.
type OracleConfig struct {
	Backend       string  `yaml:"backend"`
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"maxTokens"`
	Temperature   float32 `yaml:"temperature"`
	ContextWindow int     `yaml:"contextWindow"`
	Region        string  `yaml:"region,omitempty"`
}

// RateLimitConfig tunes the adaptive token-bucket limiter.
type RateLimitConfig struct {
	InitialTPM float64 `yaml:"initialTpm"`
	MaxTPM     float64 `yaml:"maxTpm"`
	RedisURL   string  `yaml:"redisUrl,omitempty"`
	RedisKey   string  `yaml:"redisKey,omitempty"`
}

// IteratorConfig mirrors iterator.Config's tunables.
type IteratorConfig struct {
	MinScore                 float64 `yaml:"minScore"`
	MinCoverage              float64 `yaml:"minCoverage"`
	MaxIterations            int     `yaml:"maxIterations"`
	MinConvergenceIterations int     `yaml:"minConvergenceIterations"`
	ConvergenceThreshold     float64 `yaml:"convergenceThreshold"`
}

// SchedulerConfig mirrors scheduler.Config's tunables.
type SchedulerConfig struct {
	Mode             string `yaml:"mode"`
	MaxParallelTasks int    `yaml:"maxParallelTasks"`
}

// StoreConfig selects and configures the artifact store backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Root     string `yaml:"root,omitempty"`
	MongoURI string `yaml:"mongoUri,omitempty"`
	MongoDB  string `yaml:"mongoDatabase,omitempty"`
}

// Config is the full contents of forge.yaml.
type Config struct {
	Oracle    OracleConfig    `yaml:"oracle"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Iterator  IteratorConfig  `yaml:"iterator"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
}

// Default returns the configuration used when forge.yaml is absent.
func Default() Config {
	return Config{
		Oracle: OracleConfig{Backend: "anthropic", Model: "claude-sonnet-4-5", MaxTokens: 8192, ContextWindow: 200_000},
		RateLimit: RateLimitConfig{InitialTPM: 20_000, MaxTPM: 200_000, RedisKey: "forge:ratelimit:tpm"},
		Iterator:  IteratorConfig{MinScore: 85, MinCoverage: 80, MaxIterations: 10, MinConvergenceIterations: 2, ConvergenceThreshold: 2},
		Scheduler: SchedulerConfig{Mode: "sequential", MaxParallelTasks: 3},
		Store:     StoreConfig{Backend: "fs", Root: "."},
	}
}

// Load reads path (if present) and layers environment variable overrides
// on top, so a forge.yaml file is optional. A missing file is not an
// error: Load falls back to Default() and applies overrides to it.
func Load(path string) (Config, error) {
	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("forgeconfig: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("forgeconfig: read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// APIKeyEnvVar returns the environment variable name expected to hold the
// credential for backend, following <BACKEND>_API_KEY.
func APIKeyEnvVar(backend string) string {
	switch backend {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "bedrock":
		return "BEDROCK_API_KEY"
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORGE_ORACLE_BACKEND"); v != "" {
		cfg.Oracle.Backend = v
	}
	if v := os.Getenv("FORGE_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("FORGE_REDIS_URL"); v != "" {
		cfg.RateLimit.RedisURL = v
	}
	if v := os.Getenv("FORGE_MONGO_URI"); v != "" {
		cfg.Store.Backend = "mongo"
		cfg.Store.MongoURI = v
	}
	if v := os.Getenv("FORGE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Iterator.MaxIterations = n
		}
	}
	if v := os.Getenv("FORGE_MAX_PARALLEL_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxParallelTasks = n
		}
	}
}
