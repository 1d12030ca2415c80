package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/agent/unified"
	"github.com/agentcore/engine/internal/errs"
	"github.com/agentcore/engine/internal/observability"
	"github.com/agentcore/engine/pkg/models"
)

// cancelledExitCode is returned when the run is interrupted before the
// loop reaches a terminal state.
const cancelledExitCode = 130

func buildRunCmd() *cobra.Command {
	var prompt string
	var output string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single task to completion and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return &usageError{err: fmt.Errorf("run requires -p/--prompt")}
			}
			switch output {
			case "text", "json", "stream-json":
			default:
				return &usageError{err: fmt.Errorf("--output must be one of text, json, stream-json, got %q", output)}
			}

			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadEngineConfig(configPath)
			if err != nil {
				return err
			}
			workDir, err := defaultWorkingDirectory(cfg)
			if err != nil {
				return err
			}

			apiKeyFlag, _ := cmd.Flags().GetString("api-key")
			provider, pc, err := buildProvider(cfg, apiKeyFlag)
			if err != nil {
				return err
			}

			registry, jobStore := buildToolRegistry(workDir, cfg)
			registerSubagentTools(registry, provider, cfg)
			registerUsageTool(registry, provider)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				unified.DefaultInterruptManager.Interrupt(unified.ReasonSignalInt)
			}()

			enc := json.NewEncoder(os.Stdout)
			var streamed bool
			onChunk := func(chunk *agent.ResponseChunk) {
				switch output {
				case "text":
					if chunk.Text != "" {
						fmt.Print(chunk.Text)
						streamed = true
					}
				case "stream-json":
					_ = enc.Encode(chunk)
				}
			}

			exec := unified.NewExecutor(provider, registry, nil, unified.Config{
				Loop:               buildLoopConfig(provider, pc, cfg, workDir, jobStore),
				Model:              pc.Model,
				TrajectoryPath:     trajectoryPath(workDir),
				TrajectoryAutoSave: 5 * time.Second,
				OnChunk:            onChunk,
				Events:             observability.NewMemoryEventStore(1024),
			})

			outcome := exec.Execute(ctx, unified.TaskMetadata{
				Description:      prompt,
				WorkingDirectory: workDir,
			})

			return reportOutcome(outcome, output, streamed, enc)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt to execute")
	cmd.Flags().StringVar(&output, "output", "text", "Output format: text, json, stream-json")
	return cmd
}

// trajectoryPath places one trajectory document per run under the working
// directory.
func trajectoryPath(workDir string) string {
	name := fmt.Sprintf("run-%d.json", time.Now().UnixNano())
	return filepath.Join(workDir, ".nexus", "trajectories", name)
}

// runResult is the final summary emitted for --output json.
type runResult struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
	Result  string `json:"result"`
	Steps   int    `json:"steps"`
	Error   string `json:"error,omitempty"`
}

// reportOutcome renders the terminal outcome per output mode and maps it
// to the process exit code contract.
func reportOutcome(outcome *unified.ExecutionOutcome, output string, streamed bool, enc *json.Encoder) error {
	if output == "json" {
		res := runResult{
			Success: outcome.Succeeded(),
			Outcome: string(outcome.Kind),
			Result:  outcome.Execution.FinalResult,
			Steps:   len(outcome.Execution.Steps),
		}
		if outcome.Err != nil {
			res.Error = errs.Friendly(outcome.Err).Title
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}

	switch outcome.Kind {
	case unified.OutcomeSuccess:
		if output == "text" && streamed {
			fmt.Println()
		}
		return nil
	case unified.OutcomeInterrupted, unified.OutcomeUserCancelled:
		os.Exit(cancelledExitCode)
		return nil
	case unified.OutcomeNeedsUserInput:
		return fmt.Errorf("run needs user input: re-run interactively with `chat`")
	default:
		if outcome.Err != nil {
			friendly := errs.Friendly(outcome.Err)
			return fmt.Errorf("%s: %w", friendly.Title, outcome.Err)
		}
		return fmt.Errorf("run ended with outcome %s", outcome.Kind)
	}
}

// drainRun streams one loop run to stdout; the chat REPL and IPC server
// drive the loop directly rather than through the unified executor.
func drainRun(ctx context.Context, loop agenticRunner, session *models.Session, msg *models.Message, output string) error {
	chunks, err := loop.Run(ctx, session, msg)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	var final string
	var runErr error
	enc := json.NewEncoder(os.Stdout)

	for chunk := range chunks {
		if chunk.Error != nil {
			runErr = chunk.Error
			continue
		}
		switch output {
		case "text":
			if chunk.Text != "" {
				fmt.Print(chunk.Text)
			}
		case "stream-json":
			_ = enc.Encode(chunk)
		}
		if chunk.Text != "" {
			final += chunk.Text
		}
	}

	if ctx.Err() != nil {
		if output == "json" {
			_ = enc.Encode(runResult{Success: false, Outcome: string(unified.OutcomeInterrupted), Error: ctx.Err().Error()})
		}
		os.Exit(cancelledExitCode)
	}

	if output == "text" && final != "" {
		fmt.Println()
	}
	if output == "json" {
		res := runResult{Success: runErr == nil, Outcome: string(unified.OutcomeSuccess), Result: final}
		if runErr != nil {
			res.Outcome = string(unified.OutcomeFailed)
			res.Error = runErr.Error()
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return runErr
}
