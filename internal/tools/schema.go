// Package tools hosts the built-in planning tools exposed to the model.
package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// MustSchema derives a JSON schema for a tool input struct. Schemas are
// inlined (no $ref indirection) for LLM consumption.
func MustSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		// Reflection of a static struct cannot fail at runtime; a failure
		// here is a programming error.
		panic(err)
	}
	return data
}
