package generation

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// taskSchema describes one entry of the model's final array. Only the title
// is required; other fields are checked when present.
const taskSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {
    "id": {"type": "string"},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "status": {"enum": ["TODO", "IN_PROGRESS", "COMPLETED", "CANCELLED"]},
    "priority": {"type": "integer", "minimum": 0},
    "duration_seconds": {"type": "integer", "minimum": 0},
    "deadline": {"type": ["string", "null"]},
    "prerequisite_tasks": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

func compileTaskSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(taskSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal task schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("task.json", doc); err != nil {
		return nil, fmt.Errorf("add task schema: %w", err)
	}
	schema, err := c.Compile("task.json")
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	return schema, nil
}

// draft is a validated entry from the model's final answer.
type draft struct {
	Title string
}

// extractDrafts finds the JSON array in text and returns its valid entries
// plus the number of entries skipped. Text without a parsable array yields
// nothing.
func extractDrafts(text string, schema *jsonschema.Schema) ([]draft, int) {
	raw := findJSONArray(text)
	if raw == "" {
		return nil, 0
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, 0
	}
	items, ok := parsed.([]any)
	if !ok {
		return nil, 0
	}

	var out []draft
	skipped := 0
	for _, item := range items {
		if err := schema.Validate(item); err != nil {
			skipped++
			continue
		}
		obj := item.(map[string]any)
		title := strings.TrimSpace(obj["title"].(string))
		if title == "" {
			skipped++
			continue
		}
		out = append(out, draft{Title: title})
	}
	return out, skipped
}

// findJSONArray prefers a fenced block and falls back to the span from the
// first '[' to the last ']'.
func findJSONArray(text string) string {
	for _, fence := range []string{"```json", "```"} {
		idx := strings.Index(text, fence)
		if idx < 0 {
			continue
		}
		start := idx + len(fence)
		end := strings.Index(text[start:], "```")
		if end < 0 {
			continue
		}
		candidate := strings.TrimSpace(text[start : start+end])
		if strings.HasPrefix(candidate, "[") && strings.HasSuffix(candidate, "]") {
			return candidate
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
