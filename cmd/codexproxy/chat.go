package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/codexproxy/pkg/providers"
	"github.com/dotsetgreg/codexproxy/pkg/responses"
)

// chatSession is a minimal Responses API client that keeps the full
// conversation history locally and resends it every turn, the way Codex
// does. The proxy in front of it supplies cache identity and compaction.
type chatSession struct {
	client       *providers.Client
	model        string
	conversation string
	fork         string
	stream       bool
	history      []responses.Item
}

func (c *chatSession) buildRequest(text string) (*responses.Request, error) {
	input := append(responses.CloneItems(c.history), responses.NewMessage(responses.RoleUser, text))
	store := false
	req := &responses.Request{
		Model:    c.model,
		Input:    input,
		Metadata: map[string]interface{}{"conversation_id": c.conversation},
		Store:    &store,
	}
	if c.fork != "" {
		if err := req.SetExtra("forkId", c.fork); err != nil {
			return nil, err
		}
	}
	if c.stream {
		if err := req.SetExtra("stream", true); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Send runs one turn. On success the user message and the reply's message
// items are appended to the history.
func (c *chatSession) Send(ctx context.Context, text string) (*providers.Result, error) {
	req, err := c.buildRequest(text)
	if err != nil {
		return nil, err
	}
	result, err := c.client.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	c.history = req.Input
	for _, item := range result.Output {
		if item.IsMessage() {
			c.history = append(c.history, item.Clone())
		}
	}
	if len(result.Output) == 0 && result.Text != "" {
		c.history = append(c.history, responses.NewMessage(responses.RoleAssistant, result.Text))
	}
	return result, nil
}

func (c *chatSession) printResult(out io.Writer, result *providers.Result) {
	if info := result.Compaction; info != nil {
		fmt.Fprintf(out, "\n[compacted %d turns (%s", info.TotalTurns, info.Mode)
		if info.DroppedTurns > 0 {
			fmt.Fprintf(out, ", %d dropped from transcript", info.DroppedTurns)
		}
		fmt.Fprintln(out, ")]")
	}
	fmt.Fprintf(out, "\n%s %s\n", appName, result.Text)
	if usage := result.Usage; usage != nil {
		fmt.Fprintf(out, "  tokens: in=%d cached=%d out=%d\n", usage.InputTokens, usage.CachedTokens, usage.OutputTokens)
	}
}

func (c *chatSession) handleLine(ctx context.Context, out io.Writer, line string) (quit bool) {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if input == "exit" || input == "quit" {
		fmt.Fprintln(out, "Goodbye!")
		return true
	}
	result, err := c.Send(ctx, input)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return false
	}
	c.printResult(out, result)
	fmt.Fprintln(out)
	return false
}

func interactiveMode(ctx context.Context, c *chatSession, out io.Writer) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".codexproxy_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(out, "Falling back to simple input mode...")
		simpleInteractiveMode(ctx, c, os.Stdin, out)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if c.handleLine(ctx, out, line) {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, c *chatSession, in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if strings.TrimSpace(line) != "" {
					c.handleLine(ctx, out, line)
				}
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			return
		}
		if c.handleLine(ctx, out, line) {
			return
		}
	}
}
