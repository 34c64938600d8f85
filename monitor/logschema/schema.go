package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"stage_done": {
		Event:    "stage_done",
		Required: []string{"run_id", "stage", "ts"},
	},
	"rows_dropped": {
		Event:    "rows_dropped",
		Required: []string{"run_id", "stage", "reason", "count"},
	},
	"run_error": {
		Event:    "run_error",
		Required: []string{"run_id", "error"},
	},
	"run_done": {
		Event:    "run_done",
		Required: []string{"run_id", "stage", "status", "rows", "mean_accuracy"},
	},
	"alert": {
		Event:    "alert",
		Required: []string{"run_id", "rule", "level"},
	},
	"file_skipped": {
		Event:    "file_skipped",
		Required: []string{"file", "error"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key。未登记的事件不校验。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing fields: %s", event, strings.Join(missing, ","))
	}
	return nil
}
