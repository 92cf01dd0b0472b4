// handlers.go implements the command logic behind the builders in
// commands.go. runServe assembles the whole engine; the rest are thin
// API clients against a running server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/internal/engine/providers"
	"github.com/golemhq/golem/internal/events"
	"github.com/golemhq/golem/internal/gateway"
	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/queue"
	"github.com/golemhq/golem/internal/sandbox"
	"github.com/golemhq/golem/internal/store"
	"github.com/golemhq/golem/internal/tools"
	"github.com/golemhq/golem/internal/worker"
	"github.com/golemhq/golem/pkg/models"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads the configuration, assembles the engine, and blocks
// until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	// The default config file is optional; an explicit --config that
	// does not exist should still fail loudly.
	if configPath == defaultConfigPath {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = ""
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	metrics := observability.NewMetrics()

	traceEndpoint := ""
	if cfg.Tracing.Enabled {
		traceEndpoint = cfg.Tracing.Endpoint
	}
	tracer, flushTraces := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       traceEndpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Insecure:       cfg.Tracing.Insecure,
	})

	slog.Info("starting golem engine",
		"version", version,
		"commit", commit,
		"config", configPath,
		"store", cfg.Store.Driver,
		"llm_provider", cfg.LLM.Provider,
	)

	var st store.TaskStore
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open task store: %w", err)
		}
	default:
		st = store.NewMemoryStore()
	}
	defer st.Close()

	q := queue.NewMemoryQueue(cfg.Queue.Buffer)
	broker := events.NewBroker()
	broker.Start()

	sandboxes := sandbox.NewManager(cfg.Sandbox, nil, logger, metrics)

	llm, err := providers.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize llm provider: %w", err)
	}

	registry := engine.NewRegistry(logger)
	for _, tool := range tools.All(sandboxes, cfg.Sandbox.Browser) {
		registry.Register(tool)
	}

	planner := engine.NewPlanner(llm, registry, engine.PlannerConfig{
		Model:       cfg.LLM.PlannerModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger, metrics)

	executor := engine.NewExecutor(registry, engine.ExecutorConfig{
		StepTimeout: cfg.Worker.StepTimeout,
	}, logger, metrics)

	var critic *engine.Critic
	if cfg.Critic.Enabled {
		critic = engine.NewCritic(llm, registry, engine.CriticConfig{
			Model:               cfg.LLM.CriticModel,
			Temperature:         cfg.LLM.Temperature,
			MaxTokens:           cfg.LLM.MaxTokens,
			ConfidenceThreshold: cfg.Critic.ConfidenceThreshold,
		}, logger, metrics)
	}

	orchestrator := engine.NewOrchestrator(planner, executor, critic, sandboxes, st, broker,
		engine.OrchestratorConfig{
			MaxCorrections: cfg.Critic.MaxCorrections,
		}, logger, metrics, tracer)

	pool := worker.New(cfg.Worker, q, st, orchestrator, broker, logger, metrics)
	server := gateway.New(cfg.Server, st, q, broker, pool, logger, metrics)

	// Cancel on shutdown signals. In-flight tasks see the cancellation,
	// unwind, and finalize on detached contexts.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)
	if err := server.Start(); err != nil {
		return err
	}

	slog.Info("golem engine started",
		"addr", server.Addr(),
		"concurrency", cfg.Worker.Concurrency,
		"tools", registry.Names(),
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway shutdown incomplete", "error", err)
	}
	_ = q.Close()
	if err := pool.Stop(shutdownCtx); err != nil {
		slog.Warn("worker pool did not drain", "error", err)
	}
	broker.Stop()
	if err := sandboxes.Shutdown(shutdownCtx); err != nil {
		slog.Warn("sandbox teardown incomplete", "error", err)
	}
	if err := flushTraces(shutdownCtx); err != nil {
		slog.Warn("trace flush failed", "error", err)
	}

	slog.Info("golem engine stopped gracefully")
	return nil
}

// =============================================================================
// Task Command Handlers
// =============================================================================

func runSubmit(cmd *cobra.Command, serverAddr, goal string, contextKVs []string, wait bool) error {
	client, err := newAPIClientFromFlags(serverAddr)
	if err != nil {
		return err
	}

	taskContext := make(map[string]any, len(contextKVs))
	for _, kv := range contextKVs {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return fmt.Errorf("invalid --context %q, want key=value", kv)
		}
		taskContext[key] = value
	}

	var created struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	payload := map[string]any{"goal": goal}
	if len(taskContext) > 0 {
		payload["context"] = taskContext
	}
	if err := client.postJSON(cmd.Context(), "/v1/tasks", payload, &created); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task %s submitted (%s)\n", created.TaskID, created.Status)
	if !wait {
		return nil
	}
	return followTask(cmd, client, created.TaskID, 0)
}

func runGet(cmd *cobra.Command, serverAddr, taskID string) error {
	client, err := newAPIClientFromFlags(serverAddr)
	if err != nil {
		return err
	}

	var task models.Task
	if err := client.getJSON(cmd.Context(), "/v1/tasks/"+taskID, &task); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:      %s\n", task.ID)
	fmt.Fprintf(out, "Status:  %s\n", task.Status)
	fmt.Fprintf(out, "Goal:    %s\n", task.Goal)
	fmt.Fprintf(out, "Created: %s\n", task.CreatedAt.Format(time.RFC3339))
	if task.StartedAt != nil {
		fmt.Fprintf(out, "Started: %s\n", task.StartedAt.Format(time.RFC3339))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(out, "Done:    %s\n", task.CompletedAt.Format(time.RFC3339))
	}
	if task.Error != "" {
		fmt.Fprintf(out, "Error:   %s\n", task.Error)
	}

	if len(task.Plan) > 0 {
		fmt.Fprintln(out, "Plan:")
		for i, step := range task.Plan {
			marker := " "
			switch step.Status {
			case models.StepStatusCompleted:
				marker = "✓"
			case models.StepStatusFailed:
				marker = "✗"
			case models.StepStatusRunning:
				marker = "▸"
			}
			fmt.Fprintf(out, "  %s %2d. [%s] %s\n", marker, i+1, step.Tool, step.Description)
		}
	}
	if len(task.Artifacts) > 0 {
		fmt.Fprintln(out, "Artifacts:")
		for _, artifact := range task.Artifacts {
			name := artifact.Path
			if name == "" {
				name = string(artifact.Type)
			}
			fmt.Fprintf(out, "  - %s (%s)\n", name, artifact.Type)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, serverAddr, status string, limit int) error {
	client, err := newAPIClientFromFlags(serverAddr)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/v1/tasks?limit=%d", limit)
	if status != "" {
		path += "&status=" + status
	}
	var list struct {
		Tasks []*models.Task `json:"tasks"`
		Count int            `json:"count"`
	}
	if err := client.getJSON(cmd.Context(), path, &list); err != nil {
		return err
	}

	if len(list.Tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tGOAL")
	for _, task := range list.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			task.ID, task.Status, task.CreatedAt.Format(time.RFC3339), truncate(task.Goal, 60))
	}
	return w.Flush()
}

func runCancel(cmd *cobra.Command, serverAddr, taskID string) error {
	client, err := newAPIClientFromFlags(serverAddr)
	if err != nil {
		return err
	}

	var result struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := client.deleteJSON(cmd.Context(), "/v1/tasks/"+taskID, &result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", result.TaskID)
	return nil
}

func runEvents(cmd *cobra.Command, serverAddr, taskID string, afterSeq int64, follow bool) error {
	client, err := newAPIClientFromFlags(serverAddr)
	if err != nil {
		return err
	}
	if follow {
		return followTask(cmd, client, taskID, afterSeq)
	}

	var list struct {
		Events []models.Event `json:"events"`
	}
	path := fmt.Sprintf("/v1/tasks/%s/events?after_seq=%d", taskID, afterSeq)
	if err := client.getJSON(cmd.Context(), path, &list); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, event := range list.Events {
		printEvent(out, event)
	}
	return nil
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("schema generation failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}

func runConfigCheck(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config OK: %s\n", configPath)
	fmt.Fprintf(out, "  server:  %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  store:   %s\n", cfg.Store.Driver)
	fmt.Fprintf(out, "  llm:     %s (planner %s, critic %s)\n",
		cfg.LLM.Provider, cfg.LLM.PlannerModel, cfg.LLM.CriticModel)
	fmt.Fprintf(out, "  sandbox: %s\n", cfg.Sandbox.Image)
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
