package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	openaisdk "github.com/sashabaranov/go-openai"

	"forge.dev/forge/internal/confirm"
	"forge.dev/forge/internal/confirm/trust"
	"forge.dev/forge/internal/forgeconfig"
	"forge.dev/forge/internal/oracle"
	"forge.dev/forge/internal/oracle/anthropic"
	"forge.dev/forge/internal/oracle/bedrock"
	"forge.dev/forge/internal/oracle/openai"
	"forge.dev/forge/internal/ratelimit"
	"forge.dev/forge/internal/store"
	"forge.dev/forge/internal/store/fsstore"
	"forge.dev/forge/internal/telemetry"
	"forge.dev/forge/internal/tools"
)

// app bundles the dependencies every subcommand wires up from forge.yaml
// plus the environment, mirroring the teacher's own cmd/*/main.go pattern
// of one run() that builds its collaborators up front and returns an
// error. The build, plan and resume subcommands still call os.Exit with
// exitCode once their phase has run.
type app struct {
	cfg     forgeconfig.Config
	oracle  oracle.Client
	store   store.Store
	logger  telemetry.Logger
	gate    *confirm.Gate
	tools   *tools.Registry
	trusted *trust.Store
}

func newApp(cfg forgeconfig.Config, root string) (*app, error) {
	logger := telemetry.NewClueLogger("forge")
	client, err := buildOracleClient(cfg)
	if err != nil {
		return nil, err
	}
	st, err := buildStore(cfg, root, logger)
	if err != nil {
		return nil, err
	}
	trusted, err := trust.NewProjectStore(root)
	if err != nil {
		return nil, fmt.Errorf("forge: open trust store: %w", err)
	}
	return &app{
		cfg:     cfg,
		oracle:  client,
		store:   st,
		logger:  logger,
		gate:    confirm.New(),
		tools:   tools.NewRegistry(),
		trusted: trusted,
	}, nil
}

// buildOracleClient constructs the configured backend's raw SDK client,
// adapts it to oracle.Client, and wraps it with the rate limiter. Anthropic
// and OpenAI credentials come from the environment variable named by
// forgeconfig.APIKeyEnvVar; Bedrock reads the AWS_* variables (see
// buildBedrockClient). None come from forge.yaml.
func buildOracleClient(cfg forgeconfig.Config) (oracle.Client, error) {
	var client oracle.Client
	var err error

	switch cfg.Oracle.Backend {
	case "anthropic":
		client, err = buildAnthropicClient(cfg.Oracle)
	case "openai":
		client, err = buildOpenAIClient(cfg.Oracle)
	case "bedrock":
		client, err = buildBedrockClient(cfg.Oracle)
	default:
		return nil, fmt.Errorf("forge: unknown oracle backend %q", cfg.Oracle.Backend)
	}
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit.InitialTPM, cfg.RateLimit.MaxTPM)
	if cfg.RateLimit.RedisURL != "" {
		// A clustered limiter shares its budget across forge processes via
		// Redis; see internal/ratelimit.NewClustered. The CLI stays
		// single-node by default and only pays the Redis round trip when
		// FORGE_REDIS_URL/forge.yaml's rateLimit.redisUrl is set.
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisURL})
		key := cfg.RateLimit.RedisKey
		if key == "" {
			key = "forge:ratelimit:tpm"
		}
		budget := ratelimit.NewRedisBudget(rdb, key)
		limiter = ratelimit.NewClustered(context.Background(), budget, cfg.RateLimit.InitialTPM, cfg.RateLimit.MaxTPM)
	}
	return limiter.Wrap(client), nil
}

func apiKeyFor(backend string) (string, error) {
	envVar := forgeconfig.APIKeyEnvVar(backend)
	if envVar == "" {
		return "", fmt.Errorf("forge: no credential env var known for backend %q", backend)
	}
	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("forge: %s is not set", envVar)
	}
	return key, nil
}

func buildAnthropicClient(oc forgeconfig.OracleConfig) (oracle.Client, error) {
	key, err := apiKeyFor("anthropic")
	if err != nil {
		return nil, err
	}
	sdkClient := anthropicsdk.NewClient(option.WithAPIKey(key))
	return anthropic.New(&sdkClient.Messages, anthropic.Options{
		Model:         oc.Model,
		MaxTokens:     oc.MaxTokens,
		Temperature:   oc.Temperature,
		ContextWindow: oc.ContextWindow,
	})
}

func buildOpenAIClient(oc forgeconfig.OracleConfig) (oracle.Client, error) {
	key, err := apiKeyFor("openai")
	if err != nil {
		return nil, err
	}
	sdkClient := openaisdk.NewClient(key)
	return openai.New(sdkClient, openai.Options{
		Model:         oc.Model,
		MaxTokens:     oc.MaxTokens,
		ContextWindow: oc.ContextWindow,
	})
}

// buildBedrockClient assembles an aws.Config by hand from environment
// variables. The teacher's go.mod never depends on aws-sdk-go-v2/config or
// aws-sdk-go-v2/credentials, so forge follows suit rather than adding an
// unused-elsewhere submodule: it builds aws.Credentials directly from
// AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY/AWS_SESSION_TOKEN.
func buildBedrockClient(oc forgeconfig.OracleConfig) (oracle.Client, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("forge: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required for the bedrock backend")
	}
	region := oc.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		return nil, errors.New("forge: bedrock backend requires oracle.region or AWS_REGION")
	}

	creds := aws.Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	awsCfg := aws.Config{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		}),
	}
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	return bedrock.New(runtime, bedrock.Options{
		Model:         oc.Model,
		MaxTokens:     oc.MaxTokens,
		Temperature:   oc.Temperature,
		ContextWindow: oc.ContextWindow,
	})
}

func buildStore(cfg forgeconfig.Config, root string, logger telemetry.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "fs", "":
		storeRoot := cfg.Store.Root
		if storeRoot == "" || storeRoot == "." {
			storeRoot = root
		}
		return fsstore.New(storeRoot, fsstore.WithLogger(logger)), nil
	case "mongo":
		return nil, errors.New("forge: mongo store wiring requires a live *mongo.Database; run with --store=fs or construct mongostore.New in an embedding program")
	default:
		return nil, fmt.Errorf("forge: unknown store backend %q", cfg.Store.Backend)
	}
}

// stdinPrompter implements confirm.UserInteractionSink over the process's
// own stdin/stdout, the surface `forge chat` uses for interactive
// confirmations.
type stdinPrompter struct {
	in  *bufio.Reader
	out *os.File
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func (p *stdinPrompter) Prompt(message string) (string, error) {
	fmt.Fprint(p.out, message)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// forgeConfigAt loads configPath, treating it as relative to root unless
// it is already absolute.
func forgeConfigAt(root, configPath string) (forgeconfig.Config, error) {
	path := configPath
	if !strings.HasPrefix(path, "/") {
		path = root + "/" + path
	}
	return forgeconfig.Load(path)
}

func exitCode(success bool) int {
	if success {
		return 0
	}
	return 1
}

var now = time.Now
