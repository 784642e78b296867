// Command forge drives the plan-then-converge workflow over a project's
// working tree: forge plan turns a goal into a task backlog, forge build
// runs the scheduler over that backlog's tasks until every one converges
// or the run is interrupted and resumed.
//
// # Configuration
//
// forge.yaml (optional) plus environment variables:
//
//	ANTHROPIC_API_KEY / OPENAI_API_KEY                   - oracle backend credential
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION - bedrock backend credential and region
//	FORGE_ORACLE_BACKEND, FORGE_ORACLE_MODEL             - override the configured backend/model
//	FORGE_REDIS_URL                                      - cluster-coordinated rate limiting
//	FORGE_MONGO_URI                                       - selects the mongo store, which the CLI does not wire (commands fail)
//	FORGE_MAX_ITERATIONS, FORGE_MAX_PARALLEL_TASKS       - iterator/scheduler overrides
package main

import (
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "plan":
		err = runPlan(os.Args[2:])
	case "build":
		err = runBuild(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "resume":
		err = runResume(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "chat":
		err = runChat(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: forge <init|plan|build|status|resume|config|chat> [args]")
}
