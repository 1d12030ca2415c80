package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache holds compiled JSON Schemas keyed by their raw bytes so repeated
// calls to the same tool don't recompile the schema on every dispatch.
var schemaCache sync.Map

// validateToolParams checks params against the tool's declared JSON Schema
// before dispatch. A tool whose Schema() is empty or not a valid schema
// document is treated as unconstrained and always passes.
func validateToolParams(tool Tool, params json.RawMessage) error {
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}

	compiled, err := compileToolSchema(raw)
	if err != nil {
		// A malformed schema on the tool side is a tool bug, not a bad call;
		// don't block dispatch on it.
		return nil
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode tool parameters: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tool parameters invalid: %w", err)
	}
	return nil
}

func compileToolSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
