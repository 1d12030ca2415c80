package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/commands"
	"github.com/agentcore/engine/internal/sessions"
	"github.com/agentcore/engine/internal/skills"
	exectools "github.com/agentcore/engine/internal/tools/exec"
	"github.com/agentcore/engine/pkg/models"
)

// buildChatCommandRegistry assembles the slash-command registry for the
// interactive REPL: /help, /new, /model, /stop and friends, plus exit.
func buildChatCommandRegistry() *commands.Registry {
	registry := commands.NewRegistry(nil)
	commands.RegisterBuiltins(registry)
	_ = registry.Register(&commands.Command{
		Name:        "exit",
		Aliases:     []string{"quit"},
		Description: "Exit the chat session",
		Category:    "system",
		Source:      "builtin",
		Handler: func(ctx context.Context, inv *commands.Invocation) (*commands.Result, error) {
			return &commands.Result{Data: map[string]any{"action": "exit"}}, nil
		},
	})
	return registry
}

func buildChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat REPL",
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
			apiKeyFlag, _ := cmd.Flags().GetString("api-key")
			provider, _, err := buildProvider(cfg, apiKeyFlag)
			if err != nil {
				return err
			}

			// Sessions persist across restarts when the workspace is writable;
			// otherwise fall back to in-memory history.
			var store sessions.Store = sessions.NewMemoryStore()
			if dbStore, err := sessions.OpenSQLiteStore(filepath.Join(workDir, ".nexus", "sessions.db")); err == nil {
				store = dbStore
				defer dbStore.Close()
			}
			registry, jobStore := buildToolRegistry(workDir, cfg)
			registerSubagentTools(registry, provider, cfg)
			registerUsageTool(registry, provider)
			loop := buildLoop(provider, registry, store, cfg, workDir, jobStore)

			// A workspace IDENTITY.md seeds the persona line of the system
			// prompt; absence is normal.
			if identity, err := agent.LoadIdentityFromWorkspace(workDir); err == nil && identity != nil && identity.HasValues() && identity.Name != "" {
				persona := "You are " + identity.Name
				if identity.Vibe != "" {
					persona += ", " + identity.Vibe
				}
				persona += "."
				loop.SetDefaultSystem(persona)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, err := store.GetOrCreate(ctx, "chat", "nexus", models.ChannelCLI, "")
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			cmdRegistry := buildChatCommandRegistry()
			cmdParser := commands.NewParser(cmdRegistry)

			// Skills discovered from the workspace and home dirs activate by
			// trigger per turn; a failed discovery just means no skills.
			skillsMgr, skillsErr := skills.NewManager(nil, workDir, nil)
			if skillsErr == nil {
				if err := skillsMgr.Discover(ctx); err != nil {
					skillsMgr = nil
				}
			} else {
				skillsMgr = nil
			}
			if skillsMgr != nil {
				skillExec := exectools.NewManager(workDir)
				for _, entry := range skillsMgr.ListEligible() {
					for _, tool := range skills.BuildSkillTools(entry, skillExec) {
						registry.Register(tool)
					}
				}
			}

			fmt.Fprintln(os.Stdout, "nexus chat — /help for commands, Ctrl-D to exit")
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

			for {
				fmt.Fprint(os.Stdout, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				if detection := cmdParser.Parse(line); detection.IsControlCommand {
					inv := &commands.Invocation{
						Name:       detection.Primary.Name,
						Args:       detection.Primary.Args,
						RawText:    line,
						SessionKey: session.ID,
						Context:    map[string]any{"default_model": cfg.DefaultProvider},
					}
					result, err := cmdRegistry.Execute(ctx, inv)
					if err != nil {
						fmt.Fprintln(os.Stderr, "error:", err)
						continue
					}
					if result.Text != "" {
						fmt.Fprintln(os.Stdout, result.Text)
					}
					if action, _ := result.Data["action"].(string); action == "exit" {
						break
					}
					continue
				}

				msg := &models.Message{Role: models.RoleUser, Content: line}
				runCtx := ctx
				if preamble := skills.BuildSkillPreamble(skillsMgr, skills.ActivationContext{Input: line}); preamble != "" {
					runCtx = agent.WithSystemPrompt(ctx, preamble)
				}
				if err := drainRun(runCtx, loop, session, msg, "text"); err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
				}
				if ctx.Err() != nil {
					break
				}
			}
			return scanner.Err()
		},
	}
	return cmd
}
