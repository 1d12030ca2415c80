// Package main provides the CLI entry point for the agent execution engine.
//
// # Basic Usage
//
//	nexus run -p "what is 2+2?"
//	nexus chat
//	nexus ipc
//	nexus eval ./evalset.json
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/internal/observability"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	rootCmd := buildRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		if ue, ok := asUsageError(err); ok {
			fmt.Fprintln(os.Stderr, ue.Error())
			return 2
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// buildRootCmd creates the root command with the run/chat/ipc/eval
// subcommands per the engine's CLI surface.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nexus",
		Short:         "nexus runs the agent execution engine",
		Long:          `nexus drives a bounded, observable, interruptible agent run over an LLM provider and a tool catalog.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format: json or text")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("api-key", "", "API key for the default provider (overrides all other credential sources)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("log-format")
		level, _ := cmd.Flags().GetString("log-level")
		slog.SetDefault(slog.New(newSlogHandler(format, level, os.Stderr)))

		// Span export is opt-in; without an endpoint spans stay in-process
		// and only trace/span ids reach the audit log.
		if _, shutdown, err := observability.NewTracer(observability.TraceConfig{
			Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		}); err == nil {
			cobra.OnFinalize(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			})
		}
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildIPCCmd(),
		buildEvalCmd(),
	)

	return rootCmd
}

// usageError marks a cobra/flag-parsing failure as a usage error (exit 2)
// rather than a runtime failure (exit 1), per the CLI surface's exit codes.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func asUsageError(err error) (*usageError, bool) {
	ue, ok := err.(*usageError)
	return ue, ok
}

func newSlogHandler(format, level string, w *os.File) slog.Handler {
	var slvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slvl = slog.LevelDebug
	case "warn", "warning":
		slvl = slog.LevelWarn
	case "error":
		slvl = slog.LevelError
	default:
		slvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: slvl}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
