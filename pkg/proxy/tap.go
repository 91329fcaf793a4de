package proxy

import (
	"io"
	"sync"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
	"github.com/tidwall/gjson"
)

// usageTap passes a streamed body through to the client unchanged while a
// background scanner looks for the response.completed event. record is called
// with the completed response object.
type usageTap struct {
	body io.ReadCloser
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func newUsageTap(body io.ReadCloser, record func(payload []byte)) *usageTap {
	pr, pw := io.Pipe()
	t := &usageTap{body: body, pw: pw, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		scanner := responses.NewSSEScanner(pr)
		for scanner.Next() {
			ev := scanner.Event()
			if !responses.IsCompletionEvent(ev) {
				continue
			}
			if resp := gjson.Get(ev.Data, "response"); resp.IsObject() {
				record([]byte(resp.Raw))
			}
		}
		_, _ = io.Copy(io.Discard, pr)
	}()
	return t
}

func (t *usageTap) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 {
		_, _ = t.pw.Write(p[:n])
	}
	if err != nil {
		t.finish()
	}
	return n, err
}

func (t *usageTap) Close() error {
	err := t.body.Close()
	t.finish()
	return err
}

func (t *usageTap) finish() {
	t.once.Do(func() {
		_ = t.pw.Close()
		<-t.done
	})
}
