package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentcore/engine/internal/tools/sandbox"
)

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string

	// Validator, when set, additionally rejects paths matching sensitive
	// patterns (SSH keys, credential files, OS-sensitive roots) or a
	// configured deny list, on top of the workspace-escape check below.
	Validator *sandbox.Validator
}

// Resolve returns an absolute, cleaned path within the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	if r.Validator != nil {
		if d := r.Validator.ValidatePath(rel, rootAbs); !d.Allowed {
			return "", fmt.Errorf("path rejected: %s", d.Reason)
		}
	}
	return targetAbs, nil
}
