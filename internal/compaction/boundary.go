package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/engine/pkg/models"
)

// CharsPerToken is the approximate character-to-token ratio used by
// EstimateHistoryTokens.
const CharsPerToken = 4

// summarySections is the fixed section list the compaction summary prompt
// asks the model to fill in, in order.
var summarySections = []string{
	"Primary intent: what the user is ultimately trying to accomplish.",
	"Technical concepts: frameworks, protocols, and ideas discussed.",
	"Files and code sections: every file touched or examined, with the important excerpts.",
	"Errors and fixes: each error encountered and how (or whether) it was resolved.",
	"Problem solving: approaches tried, decisions made, dead ends abandoned.",
	"All user messages: a condensed list of everything the user asked for.",
	"Pending tasks: work that was requested but not yet done.",
	"Current work: what was in progress at the moment of summarization.",
	"Next step (optional): the single most likely next action, if one is clear.",
}

// BuildCompactionPrompt renders the fixed nine-section summary prompt over
// the conversation slice, optionally extended with custom instructions.
func BuildCompactionPrompt(slice []*models.Message, custom string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the conversation below so a fresh session can continue the work seamlessly.\n")
	sb.WriteString("Cover each of these sections:\n")
	for i, s := range summarySections {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	if custom = strings.TrimSpace(custom); custom != "" {
		sb.WriteString("\nAdditional instructions:\n")
		sb.WriteString(custom)
		sb.WriteString("\n")
	}
	sb.WriteString("\nConversation:\n")
	for _, m := range slice {
		if m == nil {
			continue
		}
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "[tool_call] %s %s\n", tc.Name, string(tc.Input))
		}
		for _, tr := range m.ToolResults {
			fmt.Fprintf(&sb, "[tool_result] %s: %s\n", tr.ToolName, tr.Text())
		}
	}
	return sb.String()
}

// SliceFromLastBoundary returns the suffix of history beginning at the most
// recent compaction boundary, or all of history if no boundary exists. The
// returned slice aliases the input; callers must not mutate it.
func SliceFromLastBoundary(history []*models.Message) []*models.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil && history[i].IsCompactBoundary() {
			return history[i:]
		}
	}
	return history
}

// EstimateHistoryTokens estimates the token count of a history slice with
// the conservative ~4 chars/token heuristic, counting content, tool call
// arguments, and tool result text.
func EstimateHistoryTokens(history []*models.Message) int {
	chars := 0
	for _, m := range history {
		if m == nil {
			continue
		}
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			chars += len(tr.Text())
		}
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// ShouldCompact reports whether the active slice has crossed the
// high-watermark share of the total token budget.
func ShouldCompact(history []*models.Message, totalTokenBudget int, highWatermark float64) bool {
	if totalTokenBudget <= 0 {
		return false
	}
	if highWatermark <= 0 || highWatermark > 1 {
		highWatermark = 0.8
	}
	active := SliceFromLastBoundary(history)
	return float64(EstimateHistoryTokens(active)) > float64(totalTokenBudget)*highWatermark
}

// SummaryModel is the single LLM call the compactor needs. Implementations
// wrap a provider binding; tests inject a fake.
type SummaryModel interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SummaryModelFunc adapts a function to SummaryModel.
type SummaryModelFunc func(ctx context.Context, prompt string) (string, error)

func (f SummaryModelFunc) Summarize(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Result is the boundary/summary message pair produced by one compaction,
// plus the accounting recorded on the summary's metadata.
type Result struct {
	Boundary          *models.Message
	Summary           *models.Message
	CompactID         string
	MessagesCompacted int
	TokensBefore      int
	TokensAfter       int
}

// Messages returns the pair in append order: boundary first, then summary.
func (r *Result) Messages() []*models.Message {
	return []*models.Message{r.Boundary, r.Summary}
}

// Compactor produces boundary/summary pairs over a session history. The
// caller owns the history list and appends the pair itself, so a failed
// summarization call leaves history untouched.
type Compactor struct {
	model SummaryModel

	// CustomInstructions extends the summary prompt for every compaction.
	CustomInstructions string
}

// NewCompactor builds a compactor around the given summary model.
func NewCompactor(model SummaryModel) *Compactor {
	return &Compactor{model: model}
}

// Compact snapshots the active slice, asks the model for a summary, and
// returns the boundary+summary pair to append. Returns an error, and no
// messages, if the summarization call fails or the boundary+summary pair
// would be larger than the slice it replaces.
func (c *Compactor) Compact(ctx context.Context, history []*models.Message) (*Result, error) {
	if c.model == nil {
		return nil, fmt.Errorf("compaction: no summary model configured")
	}
	slice := SliceFromLastBoundary(history)
	if len(slice) == 0 {
		return nil, fmt.Errorf("compaction: nothing to compact")
	}

	tokensBefore := EstimateHistoryTokens(slice)
	prompt := BuildCompactionPrompt(slice, c.CustomInstructions)

	summaryText, err := c.model.Summarize(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("compaction: summarization failed: %w", err)
	}

	compactID := uuid.NewString()
	now := time.Now()

	boundary := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   "Conversation compacted. Context continues from the summary below.",
		CreatedAt: now,
		Metadata: map[string]any{
			models.MetaCompactBoundary:  true,
			models.MetaCompactID:        compactID,
			models.MetaCompactTimestamp: now.UTC().Format(time.RFC3339Nano),
		},
	}
	summary := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   summaryText,
		CreatedAt: now,
	}
	tokensAfter := EstimateHistoryTokens([]*models.Message{boundary, summary})
	if tokensAfter > tokensBefore {
		return nil, fmt.Errorf("compaction: summary (%d tokens) would exceed slice (%d tokens)", tokensAfter, tokensBefore)
	}
	summary.Metadata = map[string]any{
		models.MetaCompactSummary:   true,
		models.MetaCompactID:        compactID,
		models.MetaMessagesCompact:  len(slice),
		models.MetaTokensBefore:     tokensBefore,
		models.MetaTokensAfter:      tokensAfter,
	}

	return &Result{
		Boundary:          boundary,
		Summary:           summary,
		CompactID:         compactID,
		MessagesCompacted: len(slice),
		TokensBefore:      tokensBefore,
		TokensAfter:       tokensAfter,
	}, nil
}
