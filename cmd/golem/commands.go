// commands.go contains all cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its
// handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// defaultConfigPath is the config file looked up when --config and
// GOLEM_CONFIG are both unset. A missing default file is not an error;
// built-in defaults apply.
const defaultConfigPath = "golem.yaml"

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the engine.
// This is the primary command for running Golem in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Golem engine and task API",
		Long: `Start the Golem engine with the task API, worker pool, and sandbox manager.

The server will:
1. Load configuration from the specified file (or golem.yaml)
2. Open the task store (memory or sqlite)
3. Initialize the LLM provider (OpenAI or Anthropic)
4. Register the sandbox tools and start the worker pool
5. Serve the HTTP and websocket API

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  golem serve

  # Start with custom config
  golem serve --config /etc/golem/production.yaml

  # Start with debug logging
  golem serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// =============================================================================
// Task Commands
// =============================================================================

func buildSubmitCmd() *cobra.Command {
	var (
		serverAddr string
		contextKVs []string
		wait       bool
	)
	cmd := &cobra.Command{
		Use:   "submit <goal>",
		Short: "Submit a goal for autonomous execution",
		Long: `Submit a natural-language goal. The engine plans it, runs the plan in a
fresh sandbox, and records every observable transition as an event.`,
		Example: `  # Submit and print the task id
  golem submit "download the go 1.22 release notes and summarize them"

  # Submit with planner context
  golem submit "run the linter" --context repo=https://example.com/r.git

  # Submit and stream events until the task finishes
  golem submit "build the project" --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, serverAddr, args[0], contextKVs, wait)
		},
	}
	cmd.Flags().StringVarP(&serverAddr, "server", "s", "", "Server address (host:port or URL; defaults to the configured server)")
	cmd.Flags().StringArrayVar(&contextKVs, "context", nil, "Planner context as key=value (repeatable)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Stream events until the task reaches a terminal status")
	return cmd
}

func buildGetCmd() *cobra.Command {
	var serverAddr string
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, serverAddr, args[0])
		},
	}
	cmd.Flags().StringVarP(&serverAddr, "server", "s", "", "Server address (host:port or URL)")
	return cmd
}

func buildListCmd() *cobra.Command {
	var (
		serverAddr string
		status     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, serverAddr, status, limit)
		},
	}
	cmd.Flags().StringVarP(&serverAddr, "server", "s", "", "Server address (host:port or URL)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, succeeded, failed, cancelled)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of tasks to show")
	return cmd
}

func buildCancelCmd() *cobra.Command {
	var serverAddr string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, serverAddr, args[0])
		},
	}
	cmd.Flags().StringVarP(&serverAddr, "server", "s", "", "Server address (host:port or URL)")
	return cmd
}

func buildEventsCmd() *cobra.Command {
	var (
		serverAddr string
		afterSeq   int64
		follow     bool
	)
	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Show a task's event log",
		Long: `Print the task's event log in per-task order.

With --follow the command replays history and then streams live events
over the websocket until the task reaches a terminal status.`,
		Example: `  # Print the full event log
  golem events 4f1c9dd2

  # Stream from sequence 10 onward until the task finishes
  golem events 4f1c9dd2 --after-seq 10 --follow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, serverAddr, args[0], afterSeq, follow)
		},
	}
	cmd.Flags().StringVarP(&serverAddr, "server", "s", "", "Server address (host:port or URL)")
	cmd.Flags().Int64Var(&afterSeq, "after-seq", 0, "Only show events with a higher sequence number")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream live events after the replay")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigCheckCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		Long:  "Print the JSON Schema for the config file. Point your editor at it for completion and validation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func buildConfigCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigCheck(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
