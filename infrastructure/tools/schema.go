// Package tools validates tool definitions and the arguments models pass
// when they call a tool.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// ErrUnknownTool is returned when a model calls a tool that was not offered.
var ErrUnknownTool = errors.New("unknown tool")

// SchemaValidator checks tools against JSON Schema with gojsonschema.
type SchemaValidator struct{}

var _ ports.ToolValidator = SchemaValidator{}

// NewSchemaValidator returns a validator.
func NewSchemaValidator() SchemaValidator { return SchemaValidator{} }

// ValidateDefinitions reports every tool with a missing or duplicate name
// or with parameters that do not compile as a JSON Schema.
func (SchemaValidator) ValidateDefinitions(tools []domain.ToolDefinition) error {
	var problems []string
	seen := make(map[string]struct{}, len(tools))
	for i, t := range tools {
		if t.Name == "" {
			problems = append(problems, fmt.Sprintf("tool %d: missing name", i))
			continue
		}
		if _, dup := seen[t.Name]; dup {
			problems = append(problems, fmt.Sprintf("tool %q: duplicate name", t.Name))
		}
		seen[t.Name] = struct{}{}
		if len(t.Parameters) == 0 {
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters)); err != nil {
			problems = append(problems, fmt.Sprintf("tool %q: invalid parameter schema: %v", t.Name, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid tool definitions: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateCall checks call.Arguments against the parameters of the tool
// with the same name. A tool without parameters accepts any arguments.
func (SchemaValidator) ValidateCall(tools []domain.ToolDefinition, call domain.ToolCall) error {
	for _, t := range tools {
		if t.Name == call.Name {
			return validateArguments(t, call.Arguments)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
}

func validateArguments(def domain.ToolDefinition, args map[string]any) error {
	if len(def.Parameters) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments for validation: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(def.Parameters), gojsonschema.NewBytesLoader(argBytes))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("arguments failed validation: %s", strings.Join(details, "; "))
}

// Annotate validates every call and records failures on the call's
// ValidationError field. Calls are never dropped.
func Annotate(v ports.ToolValidator, tools []domain.ToolDefinition, calls []domain.ToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return calls
	}
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		c.ValidationError = ""
		if err := v.ValidateCall(tools, c); err != nil {
			c.ValidationError = err.Error()
		}
		out[i] = c
	}
	return out
}
