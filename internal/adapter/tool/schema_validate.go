package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"monetrix/internal/domain"
)

// paramSchema is the generated and compiled argument schema of one tool.
type paramSchema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// generateSchema reflects P into a JSON Schema and compiles it for validation.
// Fields without omitempty become required; jsonschema tags carry the bounds.
func generateSchema[P any](name domain.ToolName) (*paramSchema, error) {
	r := &invopop.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero P
	s := r.Reflect(&zero)
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %q: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", name, err)
	}
	return &paramSchema{raw: raw, compiled: compiled}, nil
}

// validate checks raw arguments against the schema. Empty arguments are
// treated as an empty object so required fields are reported by name.
func (s *paramSchema) validate(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return invalidArgs("invalid JSON: %v", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return invalidArgs("%s", strings.Join(leafMessages(ve), "; "))
		}
		return invalidArgs("%v", err)
	}
	return nil
}

// leafMessages flattens a validation error tree into "location: message"
// lines, one per failing keyword, sorted for stable output.
func leafMessages(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := strings.TrimPrefix(ve.InstanceLocation, "/")
		if loc == "" {
			return []string{ve.Message}
		}
		return []string{strings.ReplaceAll(loc, "/", ".") + ": " + ve.Message}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafMessages(c)...)
	}
	sort.Strings(out)
	return out
}

func invalidArgs(format string, args ...any) error {
	return domain.NewSubSystemError("tool", "Tool.Validate", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}
