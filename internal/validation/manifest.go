package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/vizflow/vizflow/pkg/schema"
)

// Manifest describes demo sessions loaded into the history store at startup.
type Manifest struct {
	Sessions []ManifestSession `yaml:"sessions" json:"sessions"`
}

// ManifestSession is one seeded session with its transcript.
type ManifestSession struct {
	ID       string            `yaml:"id" json:"id"`
	Title    string            `yaml:"title" json:"title"`
	Theme    string            `yaml:"theme,omitempty" json:"theme,omitempty"`
	Messages []ManifestMessage `yaml:"messages" json:"messages"`
}

// ManifestMessage is one transcript entry. Body is raw markdown and may
// contain diagram fences.
type ManifestMessage struct {
	Role string `yaml:"role" json:"role"`
	Body string `yaml:"body" json:"body"`
}

// manifestSchemaJSON is the JSON Schema for seed manifest validation.
// Embedded as a constant to avoid filesystem dependencies.
const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://vizflow.dev/schemas/manifest.json",
  "type": "object",
  "required": ["sessions"],
  "properties": {
    "sessions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/session" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "session": {
      "type": "object",
      "required": ["id", "title", "messages"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "title": {
          "type": "string",
          "minLength": 1
        },
        "theme": {
          "type": "string",
          "enum": ["light", "dark"]
        },
        "messages": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/message" }
        }
      },
      "additionalProperties": false
    },
    "message": {
      "type": "object",
      "required": ["role", "body"],
      "properties": {
        "role": {
          "type": "string",
          "enum": ["user", "assistant", "system"]
        },
        "body": {
          "type": "string",
          "minLength": 1
        }
      },
      "additionalProperties": false
    }
  }
}`

// ManifestValidator validates seed manifests against the embedded JSON
// Schema (Draft 2020-12). It is safe for concurrent use.
type ManifestValidator struct {
	manifestSchema *jsonschema.Schema
}

// NewManifestValidator creates a ManifestValidator with the manifest schema
// pre-compiled.
func NewManifestValidator() (*ManifestValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal manifest schema: %w", err)
	}
	if err := c.AddResource("https://vizflow.dev/schemas/manifest.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add manifest schema resource: %w", err)
	}

	compiled, err := c.Compile("https://vizflow.dev/schemas/manifest.json")
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}

	return &ManifestValidator{manifestSchema: compiled}, nil
}

// Parse decodes a YAML (or JSON) manifest, validates it against the schema
// and runs the structural checks JSON Schema cannot express.
func (v *ManifestValidator) Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "manifest is not valid YAML").WithCause(err)
	}

	doc, err := toJSONValue(&m)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize manifest").WithCause(err)
	}
	if err := v.manifestSchema.Validate(doc); err != nil {
		return nil, toVizError(err)
	}

	// Structural check beyond the schema: session ids must be unique.
	seen := make(map[string]struct{}, len(m.Sessions))
	for _, s := range m.Sessions {
		if _, exists := seen[s.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate session id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	return &m, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toVizError converts a jsonschema.ValidationError into a VizError with
// clear, actionable messages.
func toVizError(err error) *schema.VizError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("manifest validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
