package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// wsValidator screens request frames before they reach the method
// handlers, so malformed envelopes and params fail uniformly.
type wsValidator struct {
	envelope *jsonschema.Schema
	params   map[string]*jsonschema.Schema
}

// The schema documents are compile-time constants, so a failure here is
// a programmer error and panics at init.
var wsFrameValidator = mustWSValidator()

func mustWSValidator() *wsValidator {
	v := &wsValidator{
		envelope: jsonschema.MustCompileString("ws_request", wsEnvelopeSchema),
		params:   make(map[string]*jsonschema.Schema, len(wsParamSchemas)),
	}
	for method, doc := range wsParamSchemas {
		v.params[method] = jsonschema.MustCompileString("ws_"+method, doc)
	}
	return v
}

// validate checks raw against the envelope schema and, when the frame's
// method carries a params schema, the params against that. Absent
// params validate as an empty object.
func (v *wsValidator) validate(raw []byte, frame *wsFrame) error {
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := v.envelope.Validate(payload); err != nil {
		return err
	}
	schema, ok := v.params[frame.Method]
	if !ok {
		return nil
	}
	var params any = map[string]any{}
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}
	return schema.Validate(params)
}

const wsEnvelopeSchema = `{
  "type": "object",
  "required": ["type", "id", "method"],
  "properties": {
    "type": { "const": "req" },
    "id": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "params": {}
  },
  "additionalProperties": true
}`

var wsParamSchemas = map[string]string{
	"subscribe": `{
  "type": "object",
  "properties": {
    "task_id": { "type": "string" },
    "after_seq": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false
}`,
	"unsubscribe": `{
  "type": "object",
  "properties": {
    "task_id": { "type": "string" }
  },
  "additionalProperties": false
}`,
	"ping": `{
  "type": "object",
  "additionalProperties": true
}`,
}
