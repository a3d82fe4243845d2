package llm

import (
	"regexp"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/kaptinlin/jsonrepair"
)

var validToolName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func isValidToolName(name string) bool {
	return validToolName.MatchString(name)
}

// parseToolArguments decodes streamed argument JSON. Truncated or sloppy
// JSON from the model is repaired before giving up; the result is never nil.
func parseToolArguments(raw string) map[string]any {
	args := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args
	}
	if err := jsonx.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return map[string]any{}
	}
	args = map[string]any{}
	if err := jsonx.Unmarshal([]byte(fixed), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func encodeToolArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := jsonx.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func schemaOrEmpty(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return params
}

func convertOpenAITools(tools []ports.ToolDefinition) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if !isValidToolName(tool.Name) {
			continue
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  schemaOrEmpty(tool.Parameters),
			},
		})
	}
	return result
}
