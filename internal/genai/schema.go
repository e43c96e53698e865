// internal/genai/schema.go
package genai

import "github.com/xeipuuv/gojsonschema"

// Structural gates for sidecar output. They are deliberately loose about
// values (the mapper and planner coerce those) and strict about shape, so a
// hallucinated payload fails fast instead of leaking downstream.

var slotsSchema = mustSchema(`{
	"type": "object",
	"required": ["intent"],
	"properties": {
		"intent":       {"type": "string"},
		"dt":           {"type": ["string", "null"]},
		"prev_dt":      {"type": ["string", "null"]},
		"days":         {"type": ["integer", "number", "null"]},
		"metric_focus": {"type": ["string", "null"]},
		"assumptions":  {"type": ["array", "null"]},
		"not_supported": {
			"type": ["object", "null"],
			"properties": {
				"metric":         {"type": "string"},
				"reason":         {"type": "string"},
				"missing_fields": {"type": "string"},
				"suggestion":     {"type": "string"}
			}
		}
	}
}`)

var planSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"calls": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"tool":     {"type": "string"},
					"tool_key": {"type": "string"},
					"params":   {"type": "object"}
				}
			}
		},
		"assumptions": {"type": ["array", "null"]},
		"not_supported": {
			"type": ["object", "null"],
			"properties": {
				"metric": {"type": "string"},
				"reason": {"type": "string"}
			}
		}
	},
	"anyOf": [
		{"required": ["calls"]},
		{"required": ["not_supported"]}
	]
}`)

func mustSchema(def string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def))
	if err != nil {
		panic(err)
	}
	return schema
}
