package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor derives a tool's parameter schema from its input struct via
// reflection, inlined (no $ref) so every provider accepts it. Tools with
// hand-tuned schemas keep their raw JSON; this is for the common case
// where the struct tags say everything.
func SchemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	// The reflector stamps draft/$id keys providers don't want; re-marshal
	// through a map to drop them.
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return data
	}
	delete(m, "$schema")
	delete(m, "$id")
	cleaned, err := json.Marshal(m)
	if err != nil {
		return data
	}
	return cleaned
}
