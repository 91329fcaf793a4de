package responses

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a Responses API request body. Only the fields the proxy reads or
// rewrites are modelled; everything else is carried in Extra.
type Request struct {
	Model          string
	Input          []Item
	Metadata       map[string]interface{}
	PromptCacheKey string
	// ForkID is read from the top-level forkId field. It is proxy-local and
	// never forwarded upstream.
	ForkID string
	Store  *bool
	Extra  map[string]json.RawMessage
}

// ToolFields are the request keys that let a turn invoke tools.
var ToolFields = []string{"tools", "tool_choice", "parallel_tool_calls"}

func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse responses request: %w", err)
	}
	return &req, nil
}

func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// MetadataString returns the first non-empty string metadata value among keys.
func (r *Request) MetadataString(keys ...string) string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	for _, key := range keys {
		switch v := r.Metadata[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strings.TrimSpace(fmt.Sprintf("%.0f", v))
		}
	}
	return ""
}

// StripTools removes every tool-related field so the request cannot call tools.
func (r *Request) StripTools() {
	for _, key := range ToolFields {
		delete(r.Extra, key)
	}
}

func (r *Request) HasField(key string) bool {
	_, ok := r.Extra[key]
	return ok
}

// SetExtra sets an unmodelled top-level field.
func (r *Request) SetExtra(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if r.Extra == nil {
		r.Extra = map[string]json.RawMessage{}
	}
	r.Extra[key] = raw
	return nil
}

// StripItemIDs clears message identifiers so upstream cannot be asked to
// resolve items it never stored.
func (r *Request) StripItemIDs() {
	for i := range r.Input {
		r.Input[i].ID = ""
	}
}

func (r Request) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{}
	if r.Model != "" {
		known["model"] = r.Model
	}
	input := r.Input
	if input == nil {
		input = []Item{}
	}
	known["input"] = input
	if r.Metadata != nil {
		known["metadata"] = r.Metadata
	}
	if r.PromptCacheKey != "" {
		known["prompt_cache_key"] = r.PromptCacheKey
	}
	if r.Store != nil {
		known["store"] = *r.Store
	}
	return marshalWithExtra(known, r.Extra)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = Request{}
	r.Model = takeString(fields, "model")

	snake := takeString(fields, "prompt_cache_key")
	camel := takeString(fields, "promptCacheKey")
	r.PromptCacheKey = strings.TrimSpace(snake)
	if r.PromptCacheKey == "" {
		r.PromptCacheKey = strings.TrimSpace(camel)
	}
	r.ForkID = strings.TrimSpace(takeString(fields, "forkId"))

	if raw, ok := fields["input"]; ok {
		trimmed := bytes.TrimSpace(raw)
		switch {
		case len(trimmed) > 0 && trimmed[0] == '"':
			var text string
			if err := json.Unmarshal(trimmed, &text); err != nil {
				return err
			}
			r.Input = []Item{{Type: ItemMessage, Role: RoleUser, Content: TextContent(text)}}
			delete(fields, "input")
		case len(trimmed) > 0 && trimmed[0] == '[':
			if err := json.Unmarshal(trimmed, &r.Input); err != nil {
				return fmt.Errorf("input: %w", err)
			}
			delete(fields, "input")
		}
	}

	if raw, ok := fields["metadata"]; ok {
		var meta map[string]interface{}
		if err := json.Unmarshal(raw, &meta); err == nil {
			r.Metadata = meta
			delete(fields, "metadata")
		}
	}
	if raw, ok := fields["store"]; ok {
		var store bool
		if err := json.Unmarshal(raw, &store); err == nil {
			r.Store = &store
			delete(fields, "store")
		}
	}

	r.Extra = nilIfEmpty(fields)
	return nil
}
