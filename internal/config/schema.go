package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema renders the JSON Schema for Config, derived from the yaml
// field tags. The CLI prints it so editors can validate and complete
// config files.
func JSONSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:   "yaml",
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "Golem configuration"
	schema.Description = "Settings for the golem gateway, engine, sandboxes, and worker pool."
	return json.MarshalIndent(schema, "", "  ")
}
