package session

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
	"github.com/zeebo/blake3"
)

// DefaultVolatileTags name content blocks whose text changes every turn
// without the conversation changing (workspace listings, clocks).
var DefaultVolatileTags = []string{
	"environment_context",
	"workspace_context",
	"directory_listing",
	"current_time",
}

// Item fields that vary between the copy upstream returned and the copy the
// client echoes back.
var unstableItemFields = map[string]struct{}{
	"id":     {},
	"status": {},
}

const volatilePlaceholder = "\x00volatile"

// VolatileFilter reports whether a content part should be excluded from
// fingerprinting. Its presence still counts; its text does not.
type VolatileFilter func(part responses.ContentPart) bool

// TagFilter matches text parts that open with one of the given <tag> blocks.
func TagFilter(tags ...string) VolatileFilter {
	prefixes := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.Trim(strings.TrimSpace(tag), "<>")
		if tag != "" {
			prefixes = append(prefixes, "<"+strings.ToLower(tag)+">")
		}
	}
	return func(part responses.ContentPart) bool {
		text := strings.ToLower(strings.TrimSpace(part.Text))
		for _, prefix := range prefixes {
			if strings.HasPrefix(text, prefix) {
				return true
			}
		}
		return false
	}
}

// Fingerprinter computes structural identities for turn sequences.
type Fingerprinter struct {
	filters []VolatileFilter
}

func NewFingerprinter(filters ...VolatileFilter) *Fingerprinter {
	kept := make([]VolatileFilter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	return &Fingerprinter{filters: kept}
}

func (f *Fingerprinter) volatile(part responses.ContentPart) bool {
	for _, filter := range f.filters {
		if filter(part) {
			return true
		}
	}
	return false
}

// StablePrefix returns every turn before the most recent user message.
func StablePrefix(turns []responses.Item) []responses.Item {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].HasRole(responses.RoleUser) {
			return turns[:i]
		}
	}
	return turns
}

// Fingerprint hashes the stable prefix of turns.
func (f *Fingerprinter) Fingerprint(turns []responses.Item) string {
	return f.Hash(StablePrefix(turns))
}

// Hash computes the structural hash of turns: role, item type and content
// identity, excluding ids and volatile parts.
func (f *Fingerprinter) Hash(turns []responses.Item) string {
	h := blake3.New()
	var lenBuf [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(s))
	}

	for _, turn := range turns {
		write("turn")
		itemType := turn.Type
		if itemType == "" && turn.Role != "" {
			itemType = responses.ItemMessage
		}
		write(itemType)
		write(strings.ToLower(turn.Role))
		f.writeContent(write, turn.Content)

		keys := make([]string, 0, len(turn.Extra))
		for k := range turn.Extra {
			if _, skip := unstableItemFields[k]; !skip {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			write(k)
			write(compactJSON(turn.Extra[k]))
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func (f *Fingerprinter) writeContent(write func(string), content responses.Content) {
	switch {
	case content.IsZero():
		write("none")
	case content.Raw() != nil:
		write("raw")
		write(compactJSON(content.Raw()))
	default:
		parts := content.Parts()
		write("parts")
		for _, part := range parts {
			write(normalizePartType(part.Type))
			if f.volatile(part) {
				write(volatilePlaceholder)
				continue
			}
			write(part.Text)
			keys := make([]string, 0, len(part.Extra))
			for k := range part.Extra {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				write(k)
				write(compactJSON(part.Extra[k]))
			}
		}
	}
}

// IsContinuation reports whether next is prev with zero or more turns
// appended. An empty prev has nothing to contradict. When prevHash is set,
// the matching stable prefix of next must hash to it.
func (f *Fingerprinter) IsContinuation(prev []responses.Item, prevHash string, next []responses.Item) bool {
	if len(prev) == 0 {
		return true
	}
	if len(next) < len(prev) {
		return false
	}
	if prevHash != "" {
		n := len(StablePrefix(prev))
		if f.Hash(next[:n]) != prevHash {
			return false
		}
	}
	return f.Hash(next[:len(prev)]) == f.Hash(prev)
}

// Bare strings, input_text and output_text all hash as plain text.
func normalizePartType(partType string) string {
	switch partType {
	case "", "text", responses.PartInputText, responses.PartOutputText:
		return "text"
	default:
		return partType
	}
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
