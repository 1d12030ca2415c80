package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/agent/tape"
	"github.com/agentcore/engine/internal/agent/unified"
)

// evalCase is one entry in an evalset file: a prompt and the substrings the
// final answer must contain.
type evalCase struct {
	Name           string   `json:"name"`
	Prompt         string   `json:"prompt"`
	ExpectContains []string `json:"expect_contains,omitempty"`

	// Tape, when set, replays a recorded conversation instead of calling
	// the live provider, so evals run offline and deterministically.
	Tape string `json:"tape,omitempty"`
}

type evalSet struct {
	Cases []evalCase `json:"cases"`
}

func buildEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <evalset.json>",
		Short: "Run the evaluation harness over an evalset file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadEngineConfig(configPath)
			if err != nil {
				return err
			}
			workDir, err := defaultWorkingDirectory(cfg)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read evalset: %w", err)
			}
			var set evalSet
			if err := json.Unmarshal(data, &set); err != nil {
				return fmt.Errorf("parse evalset %s: %w", args[0], err)
			}
			if len(set.Cases) == 0 {
				return &usageError{err: fmt.Errorf("evalset %s has no cases", args[0])}
			}

			apiKeyFlag, _ := cmd.Flags().GetString("api-key")

			failures := 0
			for i, c := range set.Cases {
				name := c.Name
				if name == "" {
					name = fmt.Sprintf("case-%d", i+1)
				}

				provider, pc, err := evalProvider(cfg, c, apiKeyFlag)
				if err != nil {
					fmt.Fprintf(os.Stdout, "FAIL %s: %v\n", name, err)
					failures++
					continue
				}

				registry, jobStore := buildToolRegistry(workDir, cfg)
				exec := unified.NewExecutor(provider, registry, nil, unified.Config{
					Loop:  buildLoopConfig(provider, pc, cfg, workDir, jobStore),
					Model: pc.Model,
				})

				start := time.Now()
				outcome := exec.Execute(cmd.Context(), unified.TaskMetadata{
					Description:      c.Prompt,
					WorkingDirectory: workDir,
				})
				elapsed := time.Since(start).Round(time.Millisecond)

				if !outcome.Succeeded() {
					fmt.Fprintf(os.Stdout, "FAIL %s (%s): outcome %s\n", name, elapsed, outcome.Kind)
					failures++
					continue
				}

				missing := missingExpectations(outcome.Execution.FinalResult, c.ExpectContains)
				if len(missing) > 0 {
					fmt.Fprintf(os.Stdout, "FAIL %s (%s): answer missing %q\n", name, elapsed, missing)
					failures++
					continue
				}
				fmt.Fprintf(os.Stdout, "PASS %s (%s, %d steps)\n", name, elapsed, len(outcome.Execution.Steps))
			}

			fmt.Fprintf(os.Stdout, "\n%d/%d passed\n", len(set.Cases)-failures, len(set.Cases))
			if failures > 0 {
				return fmt.Errorf("%d eval case(s) failed", failures)
			}
			return nil
		},
	}
	return cmd
}

// evalProvider resolves the provider for one case: a recorded tape when the
// case names one, the configured live binding otherwise.
func evalProvider(cfg *engineConfig, c evalCase, apiKeyFlag string) (agent.LLMProvider, modelProviderConfig, error) {
	if c.Tape == "" {
		return buildProvider(cfg, apiKeyFlag)
	}
	data, err := os.ReadFile(c.Tape)
	if err != nil {
		return nil, modelProviderConfig{}, fmt.Errorf("read tape: %w", err)
	}
	recorded, err := tape.Unmarshal(data)
	if err != nil {
		return nil, modelProviderConfig{}, fmt.Errorf("parse tape: %w", err)
	}
	pc := cfg.ModelProviders[cfg.DefaultProvider]
	return tape.NewReplayer(recorded), pc, nil
}

func missingExpectations(answer string, expects []string) []string {
	var missing []string
	for _, want := range expects {
		if !strings.Contains(answer, want) {
			missing = append(missing, want)
		}
	}
	return missing
}
