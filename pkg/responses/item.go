package responses

import (
	"encoding/json"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

// Item is one entry of a Responses API input or output array. Fields this
// package does not model (call_id, arguments, output, status...) are kept in
// Extra and written back unchanged.
type Item struct {
	Type    string
	Role    string
	ID      string
	Content Content
	Extra   map[string]json.RawMessage
}

// NewMessage builds a message item with a single text part typed for the role.
func NewMessage(role, text string) Item {
	partType := PartInputText
	if role == RoleAssistant {
		partType = PartOutputText
	}
	return Item{
		Type:    ItemMessage,
		Role:    role,
		Content: PartsContent(ContentPart{Type: partType, Text: text}),
	}
}

// IsMessage reports whether the item is a role-bearing message.
func (it Item) IsMessage() bool {
	if it.Role == "" {
		return false
	}
	return it.Type == "" || it.Type == ItemMessage
}

// IsSystem reports whether the item carries system or developer instructions.
func (it Item) IsSystem() bool {
	if !it.IsMessage() {
		return false
	}
	role := strings.ToLower(it.Role)
	return role == RoleSystem || role == RoleDeveloper
}

func (it Item) HasRole(role string) bool {
	return it.IsMessage() && strings.EqualFold(it.Role, role)
}

func (it Item) Text() string {
	return it.Content.Text()
}

// ExtraString returns a string-valued extra field, or "" when absent or not a string.
func (it Item) ExtraString(key string) string {
	raw, ok := it.Extra[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (it Item) Clone() Item {
	return Item{
		Type:    it.Type,
		Role:    it.Role,
		ID:      it.ID,
		Content: it.Content.clone(),
		Extra:   cloneRaw(it.Extra),
	}
}

func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func (it Item) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{}
	if it.Type != "" {
		known["type"] = it.Type
	}
	if it.Role != "" {
		known["role"] = it.Role
	}
	if it.ID != "" {
		known["id"] = it.ID
	}
	if !it.Content.IsZero() {
		known["content"] = it.Content
	}
	return marshalWithExtra(known, it.Extra)
}

func (it *Item) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	it.Type = takeString(fields, "type")
	it.Role = takeString(fields, "role")
	it.ID = takeString(fields, "id")
	it.Content = Content{}
	if raw, ok := fields["content"]; ok {
		delete(fields, "content")
		if err := json.Unmarshal(raw, &it.Content); err != nil {
			return err
		}
	}
	it.Extra = nilIfEmpty(fields)
	return nil
}
