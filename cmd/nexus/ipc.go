package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/internal/agent/unified"
	"github.com/agentcore/engine/internal/observability"
	"github.com/agentcore/engine/internal/sessions"
	"github.com/agentcore/engine/pkg/models"
)

// ipcMaxLineBytes caps a single inbound IPC line before it is rejected with
// a parse_error event, guarding against an unbounded read.
const ipcMaxLineBytes = 8 << 20

// ipcMetrics aggregates chat/tool latency counters for the IPC surface.
// Constructed once per process; prometheus collectors must not register twice.
var ipcMetrics = observability.NewMetrics()

// ipcRequest is one line read from stdin in the IPC wire protocol.
type ipcRequest struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// ipcEvent is one line written to stdout. Type tags the event kind; the
// remaining fields are populated according to which kind is being sent.
type ipcEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type ipcChatParams struct {
	Prompt string `json:"prompt"`
}

func buildIPCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ipc",
		Short: "Serve the line-delimited JSON IPC protocol over stdio",
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

			return runIPCServer(cmd.Context(), loop, store, os.Stdin, os.Stdout)
		},
	}
	return cmd
}

func runIPCServer(ctx context.Context, loop agenticRunner, store sessions.Store, in *os.File, out *os.File) error {
	// A dedicated writer drains the event queue so chat goroutines and the
	// request loop never interleave partial lines on stdout.
	events := make(chan ipcEvent, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		enc := json.NewEncoder(out)
		for ev := range events {
			_ = enc.Encode(ev)
		}
	}()
	writeEvent := func(ev ipcEvent) {
		events <- ev
	}
	shutdown := func() {
		close(events)
		<-writerDone
	}

	session, err := store.GetOrCreate(ctx, "ipc", "nexus", models.ChannelAPI, "")
	if err != nil {
		shutdown()
		return fmt.Errorf("create session: %w", err)
	}

	interrupts := unified.NewInterruptManager()
	var chatWG sync.WaitGroup

	writeEvent(ipcEvent{Type: "Ready"})

	// Stdin is read with blocking I/O on this goroutine; chat runs fan out
	// so a long run never blocks ping/cancel/shutdown.
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), ipcMaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req ipcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			writeEvent(ipcEvent{Type: "Error", Code: "parse_error", Message: err.Error()})
			continue
		}

		switch req.Method {
		case "ping":
			writeEvent(ipcEvent{Type: "Pong", RequestID: req.RequestID})
		case "shutdown":
			interrupts.Interrupt(unified.ReasonManual)
			chatWG.Wait()
			writeEvent(ipcEvent{Type: "ShutdownAck", RequestID: req.RequestID})
			shutdown()
			return nil
		case "cancel":
			interrupts.Interrupt(unified.ReasonUserInterrupt)
			writeEvent(ipcEvent{Type: "Ack", RequestID: req.RequestID})
		case "get_config":
			writeEvent(ipcEvent{Type: "Config", RequestID: req.RequestID})
		case "list_tools":
			writeEvent(ipcEvent{Type: "Tools", RequestID: req.RequestID})
		case "chat":
			chatCtx, cancel := context.WithCancel(ctx)
			interrupts.Register(cancel)
			chatWG.Add(1)
			go func(r ipcRequest) {
				defer chatWG.Done()
				defer cancel()
				handleIPCChat(chatCtx, loop, session, r, writeEvent)
			}(req)
		default:
			writeEvent(ipcEvent{Type: "Error", RequestID: req.RequestID, Code: "unknown_method", Message: req.Method})
		}

		if ctx.Err() != nil {
			break
		}
	}
	chatWG.Wait()
	scanErr := scanner.Err()
	if errors.Is(scanErr, bufio.ErrTooLong) {
		writeEvent(ipcEvent{Type: "Error", Code: "parse_error", Message: fmt.Sprintf("message exceeds %d byte cap", ipcMaxLineBytes)})
	}
	shutdown()
	if scanErr != nil {
		return scanErr
	}
	return ctx.Err()
}

func handleIPCChat(ctx context.Context, loop agenticRunner, session *models.Session, req ipcRequest, writeEvent func(ipcEvent)) {
	var params ipcChatParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeEvent(ipcEvent{Type: "Error", RequestID: req.RequestID, Code: "parse_error", Message: err.Error()})
			return
		}
	}

	chatStart := time.Now()
	writeEvent(ipcEvent{Type: "LlmThinking", RequestID: req.RequestID})

	msg := &models.Message{Role: models.RoleUser, Content: params.Prompt}
	chunks, err := loop.Run(ctx, session, msg)
	if err != nil {
		writeEvent(ipcEvent{Type: "Error", RequestID: req.RequestID, Code: "internal_error", Message: err.Error()})
		return
	}

	var final string
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			writeEvent(ipcEvent{Type: "Error", RequestID: req.RequestID, Code: "internal_error", Message: chunk.Error.Error()})
		case chunk.ToolEvent != nil:
			writeEvent(ipcEvent{Type: "ToolStarted", RequestID: req.RequestID, Tool: chunk.ToolEvent.ToolName})
		case chunk.ToolResult != nil:
			status := "success"
			if chunk.ToolResult.Failed() {
				status = "error"
			}
			ipcMetrics.RecordToolExecution(chunk.ToolResult.ToolName, status, 0)
			writeEvent(ipcEvent{Type: "ToolCompleted", RequestID: req.RequestID, Tool: chunk.ToolResult.ToolName})
		case chunk.Text != "":
			final += chunk.Text
		}
	}

	status := "success"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	ipcMetrics.RecordLLMRequest("ipc", "", status, time.Since(chatStart).Seconds(), 0, 0)
	writeEvent(ipcEvent{Type: "LlmDone", RequestID: req.RequestID})
	writeEvent(ipcEvent{Type: "ChatCompleted", RequestID: req.RequestID, Text: final})
}
