package responses

import (
	"encoding/json"
)

func marshalWithExtra(known map[string]interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]interface{}, len(known)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		out[k] = v
	}
	return json.Marshal(out)
}

// takeString removes key from fields and decodes it as a string. Non-string
// values are left in place so they round-trip untouched.
func takeString(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	delete(fields, key)
	return s
}

func nilIfEmpty(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func cloneRaw(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if fields == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
