// Package main provides the CLI entry point for the Golem task engine.
//
// Golem executes natural-language goals autonomously: a planner turns
// the goal into a tool-call plan, an executor runs it step by step
// inside a disposable sandbox container, and a critic reviews progress
// and splices in corrective steps when the run drifts.
//
// # Basic Usage
//
// Start the engine and API:
//
//	golem serve --config golem.yaml
//
// Submit a goal and follow it:
//
//	golem submit "clone the repo and run the test suite"
//	golem events <task-id> --follow
//
// # Environment Variables
//
//   - GOLEM_CONFIG: Path to configuration file (default: golem.yaml)
//   - GOLEM_API_KEY: API key sent by client commands
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: LLM provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "golem",
		Short: "Golem - autonomous task execution engine",
		Long: `Golem runs natural-language goals to completion inside sandboxed containers.

A task moves through plan, execute, and review: the planner produces a
step-by-step tool plan, the executor runs each step against the task's
sandbox, and the critic checks progress and corrects the plan mid-run.

Available tools: shell, file_read, file_write, file_list, browser`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSubmitCmd(),
		buildGetCmd(),
		buildListCmd(),
		buildCancelCmd(),
		buildEventsCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the GOLEM_CONFIG override when the flag was
// left at its default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" && flagValue != defaultConfigPath {
		return flagValue
	}
	if env := os.Getenv("GOLEM_CONFIG"); env != "" {
		return env
	}
	return flagValue
}
