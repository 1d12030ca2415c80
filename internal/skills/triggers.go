package skills

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// TriggerKind says what a trigger inspects.
type TriggerKind string

const (
	TriggerKeyword       TriggerKind = "keyword"
	TriggerFileExtension TriggerKind = "file_extension"
	TriggerRegex         TriggerKind = "regex"
	TriggerTaskType      TriggerKind = "task_type"
	TriggerToolUsage     TriggerKind = "tool_usage"
	TriggerAlways        TriggerKind = "always"
)

// TriggerSpec is one activation rule on a skill. Value is interpreted per
// Kind: a keyword, an extension (with or without dot), a regex pattern, a
// task type tag, or a tool name.
type TriggerSpec struct {
	Kind     TriggerKind `json:"kind" yaml:"kind"`
	Value    string      `json:"value,omitempty" yaml:"value"`
	Priority int         `json:"priority,omitempty" yaml:"priority"`
}

// ActivationContext is what triggers are matched against for one turn.
type ActivationContext struct {
	// Input is the user's message text.
	Input string

	// Files are paths referenced by the task (for extension triggers).
	Files []string

	// TaskType is an optional task classification tag.
	TaskType string

	// ToolsUsed are tool names already invoked this session.
	ToolsUsed []string
}

// Activation pairs a matched skill with the priority of its winning rule.
type Activation struct {
	Skill    *SkillEntry
	Priority int
}

// matchTrigger reports whether one rule fires for the given context.
func matchTrigger(spec TriggerSpec, actx ActivationContext) bool {
	switch spec.Kind {
	case TriggerAlways:
		return true
	case TriggerKeyword:
		return spec.Value != "" && strings.Contains(strings.ToLower(actx.Input), strings.ToLower(spec.Value))
	case TriggerFileExtension:
		ext := strings.TrimPrefix(strings.ToLower(spec.Value), ".")
		if ext == "" {
			return false
		}
		for _, f := range actx.Files {
			if strings.TrimPrefix(strings.ToLower(filepath.Ext(f)), ".") == ext {
				return true
			}
		}
		// Extensions mentioned inline ("fix the .proto files") count too.
		return strings.Contains(strings.ToLower(actx.Input), "."+ext)
	case TriggerRegex:
		re, err := regexp.Compile(spec.Value)
		if err != nil {
			return false
		}
		return re.MatchString(actx.Input)
	case TriggerTaskType:
		return spec.Value != "" && strings.EqualFold(spec.Value, actx.TaskType)
	case TriggerToolUsage:
		for _, t := range actx.ToolsUsed {
			if strings.EqualFold(t, spec.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// SelectSkills returns the skills whose triggers fire for the context,
// ranked by the highest priority among their matching rules (stable by
// name within a priority band). Skills without triggers never activate
// through this path; they remain invocable by name.
func SelectSkills(entries []*SkillEntry, actx ActivationContext) []Activation {
	var out []Activation
	for _, entry := range entries {
		if entry == nil || entry.Metadata == nil || len(entry.Metadata.Triggers) == 0 {
			continue
		}
		best := 0
		matched := false
		for _, spec := range entry.Metadata.Triggers {
			if matchTrigger(spec, actx) {
				if !matched || spec.Priority > best {
					best = spec.Priority
				}
				matched = true
			}
		}
		if matched {
			out = append(out, Activation{Skill: entry, Priority: best})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Skill.Name < out[j].Skill.Name
	})
	return out
}

// BuildSkillPreamble loads the winning skill's content and renders the
// system-context block prepended before the model sees the task. Returns
// empty when nothing activates.
func BuildSkillPreamble(m *Manager, actx ActivationContext) string {
	if m == nil {
		return ""
	}
	activations := SelectSkills(m.ListEligible(), actx)
	if len(activations) == 0 {
		return ""
	}
	winner := activations[0].Skill
	content, err := m.LoadContent(winner.Name)
	if err != nil || strings.TrimSpace(content) == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Active skill: ")
	sb.WriteString(winner.Name)
	sb.WriteString("\n\n")
	sb.WriteString(content)
	return sb.String()
}
