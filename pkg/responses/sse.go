package responses

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	EventResponseCompleted = "response.completed"
	EventOutputItemDone    = "response.output_item.done"
)

// SSEEvent is a single server-sent event.
type SSEEvent struct {
	Type string
	Data string
}

// SSEScanner reads server-sent events. Events are delimited by blank lines;
// "data:" lines are joined with newlines and "event:" sets the type. Comments
// and unknown fields are ignored.
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

func NewSSEScanner(r io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

func (s *SSEScanner) Next() bool {
	s.current = SSEEvent{}
	if s.err != nil {
		return false
	}

	var dataLines []string
	eventType := ""
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF && hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				s.err = io.EOF
				return true
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field, value = line, ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		}

		if err == io.EOF {
			if hasData {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				s.err = io.EOF
				return true
			}
			s.err = err
			return false
		}
	}
}

func (s *SSEScanner) Event() SSEEvent { return s.current }

func (s *SSEScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// CompletedResponse extracts the final response object from a Responses API
// event stream. It returns false when the stream carries no completion event.
func CompletedResponse(stream []byte) ([]byte, bool) {
	scanner := NewSSEScanner(bytes.NewReader(stream))
	var last []byte
	for scanner.Next() {
		ev := scanner.Event()
		if !IsCompletionEvent(ev) {
			continue
		}
		resp := gjson.Get(ev.Data, "response")
		if resp.Exists() && resp.IsObject() {
			last = []byte(resp.Raw)
		}
	}
	return last, last != nil
}

func IsCompletionEvent(ev SSEEvent) bool {
	if ev.Type == EventResponseCompleted {
		return true
	}
	return gjson.Get(ev.Data, "type").String() == EventResponseCompleted
}

// LooksLikeSSE reports whether a body is an event stream rather than JSON.
func LooksLikeSSE(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/event-stream") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("event:")) || bytes.HasPrefix(trimmed, []byte("data:"))
}

// WriteEvent encodes ev in wire form, one data line per line of ev.Data.
func WriteEvent(w io.Writer, ev SSEEvent) error {
	var b strings.Builder
	if ev.Type != "" {
		b.WriteString("event: ")
		b.WriteString(ev.Type)
		b.WriteString("\n")
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// RewriteEvents re-emits stream with every event passed through fn. It
// returns false when fn changed nothing or the stream could not be read,
// leaving the caller to use the original bytes.
func RewriteEvents(stream []byte, fn func(ev SSEEvent) (SSEEvent, bool)) ([]byte, bool) {
	scanner := NewSSEScanner(bytes.NewReader(stream))
	var out bytes.Buffer
	changed := false
	for scanner.Next() {
		ev, ok := fn(scanner.Event())
		changed = changed || ok
		if err := WriteEvent(&out, ev); err != nil {
			return nil, false
		}
	}
	if scanner.Err() != nil || !changed {
		return nil, false
	}
	return out.Bytes(), true
}
