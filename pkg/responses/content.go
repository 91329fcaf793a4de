package responses

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	PartInputText  = "input_text"
	PartOutputText = "output_text"
)

// ContentPart is one typed element of a structured message content array.
type ContentPart struct {
	Type  string
	Text  string
	Extra map[string]json.RawMessage
}

func (p ContentPart) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{}
	if p.Type != "" {
		known["type"] = p.Type
	}
	if p.Text != "" || p.Type == PartInputText || p.Type == PartOutputText {
		known["text"] = p.Text
	}
	return marshalWithExtra(known, p.Extra)
}

func (p *ContentPart) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.Type = takeString(fields, "type")
	p.Text = takeString(fields, "text")
	p.Extra = nilIfEmpty(fields)
	return nil
}

// Content is a message's content, which the wire format allows to be either
// a bare string or an array of typed parts.
type Content struct {
	text       string
	parts      []ContentPart
	structured bool
	present    bool
	raw        json.RawMessage
}

func TextContent(text string) Content {
	return Content{text: text, present: true}
}

func PartsContent(parts ...ContentPart) Content {
	return Content{parts: parts, structured: true, present: true}
}

func (c Content) IsZero() bool { return !c.present }

// IsString reports whether the content was a bare string on the wire.
func (c Content) IsString() bool { return c.present && !c.structured && c.raw == nil }

// Parts returns the content as typed parts. Bare string content is presented
// as a single part with an empty type.
func (c Content) Parts() []ContentPart {
	if !c.present {
		return nil
	}
	if c.structured {
		return c.parts
	}
	if c.raw != nil {
		return nil
	}
	return []ContentPart{{Text: c.text}}
}

// Raw returns the original bytes for content shapes this package does not model.
func (c Content) Raw() json.RawMessage { return c.raw }

// Text joins every text-bearing part with newlines.
func (c Content) Text() string {
	if !c.structured {
		return c.text
	}
	texts := make([]string, 0, len(c.parts))
	for _, part := range c.parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// WithText returns a copy with the first text part (or the bare string) replaced.
func (c Content) WithText(text string) Content {
	if !c.structured {
		return TextContent(text)
	}
	parts := make([]ContentPart, len(c.parts))
	copy(parts, c.parts)
	for i := range parts {
		if parts[i].Type == PartInputText || parts[i].Type == PartOutputText || parts[i].Type == "text" {
			parts[i].Text = text
			return PartsContent(parts...)
		}
	}
	return PartsContent(append(parts, ContentPart{Type: PartInputText, Text: text})...)
}

func (c Content) clone() Content {
	out := c
	if c.parts != nil {
		out.parts = make([]ContentPart, len(c.parts))
		for i, part := range c.parts {
			out.parts[i] = ContentPart{Type: part.Type, Text: part.Text, Extra: cloneRaw(part.Extra)}
		}
	}
	if c.raw != nil {
		out.raw = append(json.RawMessage(nil), c.raw...)
	}
	return out
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch {
	case !c.present:
		return []byte("null"), nil
	case c.raw != nil:
		return c.raw, nil
	case c.structured:
		if c.parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.parts)
	default:
		return json.Marshal(c.text)
	}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*c = Content{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	c.present = true
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &c.text)
	case '[':
		c.structured = true
		return json.Unmarshal(trimmed, &c.parts)
	default:
		c.raw = append(json.RawMessage(nil), trimmed...)
		return nil
	}
}
