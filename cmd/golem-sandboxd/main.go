// Package main is the entry point for golem-sandboxd, the agent that
// runs inside every task sandbox container. It exposes the shell, file,
// and browser services the host-side engine drives over HTTP.
//
// The daemon is baked into the sandbox image and started as the
// container entrypoint:
//
//	golem-sandboxd --browser
//
// It binds the container-internal service ports (shell :3001, browser
// :3002, file :3003); the host reaches them through the container's
// published port map.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/sandboxd"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		host         string
		shellPort    int
		filePort     int
		browserPort  int
		workDir      string
		browser      bool
		chromePath   string
		shellTimeout time.Duration
		logLevel     string
	)

	rootCmd := &cobra.Command{
		Use:     "golem-sandboxd",
		Short:   "In-sandbox services for golem task execution",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.NewLogger(observability.LogConfig{
				Level:  logLevel,
				Format: "json",
			})

			daemon := sandboxd.New(sandboxd.Options{
				Host:          host,
				ShellPort:     shellPort,
				FilePort:      filePort,
				BrowserPort:   browserPort,
				EnableBrowser: browser,
				Shell: sandboxd.ShellOptions{
					WorkDir:        workDir,
					DefaultTimeout: shellTimeout,
				},
				File: sandboxd.FileOptions{Root: workDir},
				Browser: sandboxd.BrowserOptions{
					Headless:   true,
					ChromePath: chromePath,
				},
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info(ctx, "sandboxd starting", "version", version, "browser", browser)
			return daemon.Run(ctx)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&host, "host", "0.0.0.0", "Address to bind the services to")
	flags.IntVar(&shellPort, "shell-port", 3001, "Shell service port")
	flags.IntVar(&filePort, "file-port", 3003, "File service port")
	flags.IntVar(&browserPort, "browser-port", 3002, "Browser service port")
	flags.StringVar(&workDir, "work-dir", "/work", "Working directory for shell and file operations")
	flags.BoolVar(&browser, "browser", false, "Enable the Chrome-backed browser service")
	flags.StringVar(&chromePath, "chrome-path", "", "Path to the Chrome binary (discovered when empty)")
	flags.DurationVar(&shellTimeout, "shell-timeout", 60*time.Second, "Default shell command timeout")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return rootCmd
}
