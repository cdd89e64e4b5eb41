package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\{([a-z_]+)(?:\.([A-Za-z0-9_\-]+))?\}`)

// renderTemplate substitutes {input}, {current_datetime}, {participant_data},
// {participant_data.KEY}, {temp_state.KEY} and {session_state.KEY}.
// Unknown placeholders are left untouched; missing keys render empty.
func (rc *RunContext) renderTemplate(tmpl, input string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		name, key := parts[1], parts[2]
		switch name {
		case "input":
			if key == "" {
				return input
			}
		case "current_datetime":
			if key == "" {
				return rc.exec.now().Format(time.RFC1123)
			}
		case "participant_data":
			data := rc.State.ParticipantData()
			if key == "" {
				return formatValue(data)
			}
			return formatValue(data[key])
		case "temp_state":
			if key != "" {
				v, _ := rc.State.TempValue(key)
				return formatValue(v)
			}
		case "session_state":
			if key != "" {
				v, _ := rc.State.SessionValue(key)
				return formatValue(v)
			}
		}
		return m
	})
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
