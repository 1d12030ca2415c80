// Package sandbox validates shell commands and filesystem paths before a
// tool dispatches them, classifying each against a strictness level and a
// base blocklist that applies regardless of configuration.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcore/engine/internal/tools/security"
)

// Strictness controls which shell constructs a command validator permits.
type Strictness string

const (
	// Strict rejects any chaining (;, &&, ||) or backgrounding (&).
	Strict Strictness = "strict"
	// Standard allows chaining but rejects backgrounding. Default.
	Standard Strictness = "standard"
	// Permissive allows both chaining and backgrounding.
	Permissive Strictness = "permissive"
)

// baseBlockedCommands is always checked regardless of Strictness: privilege
// escalation, destructive disk operations, and shell-spawning of
// unvalidated input.
var baseBlockedCommands = []string{
	"sudo ", "su ", "su\t",
	"rm -rf /", "rm -rf /*", "rm -fr /",
	"mkfs", "mkfs.",
	"dd if=", "dd of=/dev/",
	":(){ :|:& };:", // fork bomb
}

// sensitivePathPatterns are path fragments that are denied regardless of
// configured AllowPaths/DenyPaths: SSH keys, credential files, and
// OS-specific sensitive roots.
var sensitivePathPatterns = []string{
	".ssh/", "id_rsa", "id_ed25519", "id_ecdsa",
	".aws/credentials", ".aws/config",
	".netrc", ".npmrc", ".pypirc",
	".docker/config.json",
	".gnupg/",
	"credentials.json", "secrets.yaml", "secrets.yml",
	"/etc/shadow", "/etc/sudoers",
	"/proc/", "/sys/",
}

// Violation records a single blocked command or path, kept in a bounded
// ring buffer for later inspection (e.g. by a diagnostics command).
type Violation struct {
	Kind      string // "command" or "path"
	Input     string
	Reason    string
	Timestamp time.Time
}

// Decision is the outcome of validating a command or path.
type Decision struct {
	Allowed bool
	Reason  string
}

// Config controls a Validator's behavior.
type Config struct {
	Strictness       Strictness
	AllowPaths       []string
	DenyPaths        []string
	ViolationLogSize int
}

// Validator classifies shell commands and filesystem paths before dispatch.
// It is safe for concurrent use.
type Validator struct {
	strictness Strictness
	allowPaths []string
	denyPaths  []string

	mu         chan struct{} // binary semaphore guarding the ring buffer
	violations []Violation
	next       int
	filled     bool
}

// New creates a Validator from Config, applying defaults for zero values.
func New(cfg Config) *Validator {
	strictness := cfg.Strictness
	if strictness == "" {
		strictness = Standard
	}
	size := cfg.ViolationLogSize
	if size <= 0 {
		size = 256
	}
	return &Validator{
		strictness: strictness,
		allowPaths: append([]string(nil), cfg.AllowPaths...),
		denyPaths:  append([]string(nil), cfg.DenyPaths...),
		mu:         make(chan struct{}, 1),
		violations: make([]Violation, size),
	}
}

// ValidateCommand classifies a shell command. It always applies the base
// blocklist, then applies chaining/backgrounding rules per strictness.
func (v *Validator) ValidateCommand(cmd string) Decision {
	lower := strings.ToLower(cmd)
	for _, blocked := range baseBlockedCommands {
		if strings.Contains(lower, strings.ToLower(blocked)) {
			d := Decision{Allowed: false, Reason: fmt.Sprintf("command matches blocked pattern %q", blocked)}
			v.record("command", cmd, d.Reason)
			return d
		}
	}

	analysis := security.AnalyzeCommandQuoteAware(cmd)
	if analysis.IsSafe {
		return Decision{Allowed: true}
	}

	switch v.strictness {
	case Strict:
		d := Decision{Allowed: false, Reason: analysis.Reason}
		v.record("command", cmd, d.Reason)
		return d
	case Permissive:
		return Decision{Allowed: true}
	default: // Standard: chaining allowed, backgrounding is not
		for _, tok := range analysis.DangerousTokens {
			if tok.Risk == "background" {
				d := Decision{Allowed: false, Reason: "background execution is not permitted at standard strictness"}
				v.record("command", cmd, d.Reason)
				return d
			}
		}
		return Decision{Allowed: true}
	}
}

// ValidatePath classifies a filesystem path relative to workingDir against
// the built-in sensitive-path patterns and the configured allow/deny globs.
// AllowPaths take precedence over both the deny globs and the built-ins.
func (v *Validator) ValidatePath(path, workingDir string) Decision {
	clean := filepath.ToSlash(path)

	for _, allow := range v.allowPaths {
		if matchGlob(allow, clean, workingDir) {
			return Decision{Allowed: true}
		}
	}

	for _, pattern := range sensitivePathPatterns {
		if strings.Contains(clean, pattern) {
			d := Decision{Allowed: false, Reason: fmt.Sprintf("path matches sensitive pattern %q", pattern)}
			v.record("path", path, d.Reason)
			return d
		}
	}

	for _, deny := range v.denyPaths {
		if matchGlob(deny, clean, workingDir) {
			d := Decision{Allowed: false, Reason: fmt.Sprintf("path matches configured deny pattern %q", deny)}
			v.record("path", path, d.Reason)
			return d
		}
	}

	return Decision{Allowed: true}
}

func matchGlob(pattern, path, workingDir string) bool {
	if ok, err := filepath.Match(pattern, path); err == nil && ok {
		return true
	}
	if workingDir != "" {
		joined := filepath.ToSlash(filepath.Join(workingDir, path))
		if ok, err := filepath.Match(pattern, joined); err == nil && ok {
			return true
		}
	}
	return strings.Contains(path, strings.Trim(pattern, "*"))
}

func (v *Validator) record(kind, input, reason string) {
	v.mu <- struct{}{}
	defer func() { <-v.mu }()

	v.violations[v.next] = Violation{
		Kind:      kind,
		Input:     input,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	v.next++
	if v.next >= len(v.violations) {
		v.next = 0
		v.filled = true
	}
}

// Violations returns a snapshot of recorded violations, oldest first.
func (v *Validator) Violations() []Violation {
	v.mu <- struct{}{}
	defer func() { <-v.mu }()

	if !v.filled {
		out := make([]Violation, v.next)
		copy(out, v.violations[:v.next])
		return out
	}
	out := make([]Violation, len(v.violations))
	copy(out, v.violations[v.next:])
	copy(out[len(v.violations)-v.next:], v.violations[:v.next])
	return out
}
