package toolregistry

import (
	"fmt"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/tools/builtin/shared"
)

func validateArguments(def ports.ToolDefinition, args map[string]any) error {
	for _, name := range shared.RequiredParams(def.Parameters) {
		if val, ok := args[name]; !ok || val == nil {
			return fmt.Errorf("invalid arguments for %s: missing required argument %q", def.Name, name)
		}
	}

	props, _ := def.Parameters["properties"].(map[string]any)
	for key, val := range args {
		if val == nil {
			continue
		}
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue // extra fields allowed
		}
		expected, _ := prop["type"].(string)
		if err := checkType(key, expected, val); err != nil {
			return fmt.Errorf("invalid arguments for %s: %w", def.Name, err)
		}
	}
	return nil
}

func checkType(key, expectedType string, val any) error {
	switch strings.ToLower(expectedType) {
	case "":
		return nil
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("argument %q: expected string, got %T", key, val)
		}
	case "number", "integer":
		switch val.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("argument %q: expected number, got %T", key, val)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("argument %q: expected boolean, got %T", key, val)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("argument %q: expected array, got %T", key, val)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("argument %q: expected object, got %T", key, val)
		}
	}
	return nil
}
