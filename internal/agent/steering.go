package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/agentcore/engine/pkg/models"
)

// SteeringMessage is injected into a running loop between tool rounds,
// without waiting for the run to finish.
type SteeringMessage struct {
	Content     string
	Role        string // defaults to "user"
	Attachments []models.Attachment

	// Priority orders queued steering messages (higher first).
	Priority int

	// SkipRemainingTools is read when the loop drains steering, which
	// happens after the current tool batch has fully run; the loop then
	// moves on to the next LLM call as it would without the flag. No
	// queued tool call is dropped.
	SkipRemainingTools bool
}

// FollowUpMessage waits until the current run would otherwise complete,
// then continues the loop with more input.
type FollowUpMessage struct {
	Content     string
	Role        string // defaults to "user"
	Attachments []models.Attachment
}

// SteeringQueue collects steering and follow-up messages for one session.
// External callers enqueue; the loop drains between phases. Safe for
// concurrent use.
type SteeringQueue struct {
	mu       sync.Mutex
	steering []*SteeringMessage
	followUp []*FollowUpMessage
}

// NewSteeringQueue creates an empty queue.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{}
}

// Steer queues a mid-run steering message.
func (q *SteeringQueue) Steer(msg *SteeringMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = append(q.steering, msg)
}

// SteerText queues a plain-text steering message.
func (q *SteeringQueue) SteerText(content string) {
	q.Steer(&SteeringMessage{Content: content})
}

// FollowUp queues a message for after the current run.
func (q *SteeringQueue) FollowUp(msg *FollowUpMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUp = append(q.followUp, msg)
}

// FollowUpText queues a plain-text follow-up.
func (q *SteeringQueue) FollowUpText(content string) {
	q.FollowUp(&FollowUpMessage{Content: content})
}

// GetSteeringMessages drains the steering queue, highest priority first.
func (q *SteeringQueue) GetSteeringMessages() []*SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.steering
	q.steering = nil
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Priority > msgs[j].Priority })
	return msgs
}

// GetFollowUpMessages drains the follow-up queue in arrival order.
func (q *SteeringQueue) GetFollowUpMessages() []*FollowUpMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.followUp
	q.followUp = nil
	return msgs
}

// HasSteering reports whether steering input is waiting.
func (q *SteeringQueue) HasSteering() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steering) > 0
}

// HasFollowUp reports whether follow-up input is waiting.
func (q *SteeringQueue) HasFollowUp() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.followUp) > 0
}

// Clear drops everything queued.
func (q *SteeringQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = nil
	q.followUp = nil
}

type steeringQueueKey struct{}

// WithSteeringQueue attaches a queue to the run's context.
func WithSteeringQueue(ctx context.Context, queue *SteeringQueue) context.Context {
	return context.WithValue(ctx, steeringQueueKey{}, queue)
}

// SteeringQueueFromContext returns the attached queue, or nil.
func SteeringQueueFromContext(ctx context.Context) *SteeringQueue {
	queue, _ := ctx.Value(steeringQueueKey{}).(*SteeringQueue)
	return queue
}

// APIKeyResolver resolves API keys per call, for short-lived OAuth tokens
// that may expire mid-session.
type APIKeyResolver func(ctx context.Context, provider string) (string, error)

type apiKeyResolverKey struct{}
type resolvedAPIKeyKey struct{}

// WithAPIKeyResolver attaches a per-call key resolver to the context.
func WithAPIKeyResolver(ctx context.Context, resolver APIKeyResolver) context.Context {
	return context.WithValue(ctx, apiKeyResolverKey{}, resolver)
}

// APIKeyResolverFromContext returns the attached resolver, or nil.
func APIKeyResolverFromContext(ctx context.Context) APIKeyResolver {
	resolver, _ := ctx.Value(apiKeyResolverKey{}).(APIKeyResolver)
	return resolver
}

// WithResolvedAPIKey stores a pre-resolved key for the provider binding to
// pick up.
func WithResolvedAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, resolvedAPIKeyKey{}, key)
}

// ResolvedAPIKeyFromContext returns the pre-resolved key, empty when unset.
func ResolvedAPIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(resolvedAPIKeyKey{}).(string)
	return key
}

// ThinkingLevel selects the extended-reasoning depth for supported models.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingMax     ThinkingLevel = "max"
)

// ThinkingBudgets maps levels to token budgets.
var ThinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:     0,
	ThinkingMinimal: 1024,
	ThinkingLow:     4096,
	ThinkingMedium:  16384,
	ThinkingHigh:    65536,
	ThinkingMax:     100000,
}

// GetThinkingBudget returns the token budget for a level, zero if unknown.
func GetThinkingBudget(level ThinkingLevel) int {
	return ThinkingBudgets[level]
}

type thinkingLevelKey struct{}

// WithThinkingLevel selects the reasoning depth for this run.
func WithThinkingLevel(ctx context.Context, level ThinkingLevel) context.Context {
	return context.WithValue(ctx, thinkingLevelKey{}, level)
}

// ThinkingLevelFromContext returns the selected level, ThinkingOff when unset.
func ThinkingLevelFromContext(ctx context.Context) ThinkingLevel {
	level, ok := ctx.Value(thinkingLevelKey{}).(ThinkingLevel)
	if !ok {
		return ThinkingOff
	}
	return level
}
