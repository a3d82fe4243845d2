// Package shared holds the base pieces every builtin tool is assembled from.
package shared

import (
	"context"
	"fmt"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
)

// Tool is one callable capability.
type Tool interface {
	Definition() ports.ToolDefinition
	Execute(ctx context.Context, call session.ToolCall) (ports.ToolResult, error)
}

// BaseTool carries the static definition so tools only implement Execute.
type BaseTool struct {
	def ports.ToolDefinition
}

// NewBaseTool wraps a definition.
func NewBaseTool(def ports.ToolDefinition) BaseTool {
	return BaseTool{def: def}
}

func (b BaseTool) Definition() ports.ToolDefinition {
	return b.def
}

// Property describes one parameter of an object schema.
type Property struct {
	Type        string
	Description string
	Enum        []string
}

// ObjectSchema renders a JSON schema for the given properties.
func ObjectSchema(props map[string]Property, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, prop := range props {
		entry := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			entry["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			entry["enum"] = prop.Enum
		}
		properties[name] = entry
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// RequiredParams lists the schema's required parameter names.
func RequiredParams(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringArg fetches a string argument, returning "" when absent or nil.
func StringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	value, ok := args[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// MapArg fetches an object argument.
func MapArg(args map[string]any, key string) map[string]any {
	if args == nil {
		return nil
	}
	obj, _ := args[key].(map[string]any)
	return obj
}

// ToolError returns a model-visible failure without aborting anything.
func ToolError(format string, args ...any) (ports.ToolResult, error) {
	return ports.ToolResult{}, fmt.Errorf(format, args...)
}

// Text is a plain successful result.
func Text(format string, args ...any) (ports.ToolResult, error) {
	return ports.ToolResult{Content: strings.TrimSpace(fmt.Sprintf(format, args...))}, nil
}
