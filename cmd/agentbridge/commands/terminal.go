package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/thoughttree/agentbridge"
)

// responder receives permission decisions.
type responder interface {
	RespondToPermission(id, optionID string) error
}

// errNotInteractive makes the session cancel permission requests when
// nobody can answer them.
var errNotInteractive = errors.New("terminal is not interactive")

// terminal renders session events as text and asks permission questions
// on its input. It implements agentbridge.Emitter.
type terminal struct {
	out io.Writer
	in  *bufio.Reader // nil when stdin carried the prompt

	mu      sync.Mutex // guards out and last
	last    agentbridge.ChunkKind
	askMu   sync.Mutex // one question at a time
	respond responder
}

func newTerminal(out io.Writer, in io.Reader) *terminal {
	t := &terminal{out: out}
	if in != nil {
		t.in = bufio.NewReader(in)
	}
	return t
}

func (t *terminal) Emit(event string, payload any) error {
	switch event {
	case agentbridge.EventStreamChunk:
		p, ok := payload.(agentbridge.ChunkPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", payload)
		}
		t.render(p)
		return nil
	case agentbridge.EventPermissionRequest:
		p, ok := payload.(agentbridge.PermissionPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", payload)
		}
		if t.in == nil || t.respond == nil {
			return errNotInteractive
		}
		go t.ask(p)
		return nil
	default:
		return nil
	}
}

func (t *terminal) render(p agentbridge.ChunkPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Text streams in pieces; everything else starts on its own line.
	if p.Kind != agentbridge.ChunkText || t.last != agentbridge.ChunkText {
		if t.last != "" {
			fmt.Fprintln(t.out)
		}
	}
	t.last = p.Kind

	switch p.Kind {
	case agentbridge.ChunkText:
		fmt.Fprint(t.out, p.Chunk)
	case agentbridge.ChunkThought:
		fmt.Fprintf(t.out, "(thinking) %s", p.Chunk)
	case agentbridge.ChunkToolCall:
		title := p.Chunk
		if p.Tool != nil && p.Tool.Kind != "" {
			title += " [" + p.Tool.Kind + "]"
		}
		fmt.Fprintf(t.out, "> %s", title)
	case agentbridge.ChunkToolUpdate:
		status := ""
		if p.Tool != nil {
			status = p.Tool.Status
		}
		fmt.Fprintf(t.out, "  %s: %s", status, p.Chunk)
	case agentbridge.ChunkPlan:
		fmt.Fprintf(t.out, "Plan:\n%s", p.Chunk)
	case agentbridge.ChunkError:
		fmt.Fprintf(t.out, "error: %s", p.Chunk)
	default:
		fmt.Fprintf(t.out, "[%s] %s", p.Kind, p.Chunk)
	}
}

// ask prompts until a valid option is picked. On EOF the request is
// answered with no choice, which the session treats as cancelled.
func (t *terminal) ask(p agentbridge.PermissionPayload) {
	t.askMu.Lock()
	defer t.askMu.Unlock()

	t.mu.Lock()
	if t.last != "" {
		fmt.Fprintln(t.out)
	}
	t.last = ""
	fmt.Fprintf(t.out, "Agent wants to use %s (%s): %s\n", p.ToolName, p.ToolType, p.Description)
	for i, o := range p.Options {
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, o.Label)
	}
	t.mu.Unlock()

	for {
		t.mu.Lock()
		fmt.Fprint(t.out, "Choice: ")
		t.mu.Unlock()

		line, err := t.in.ReadString('\n')
		if choice, ok := pickOption(p.Options, line); ok {
			t.answer(p.ID, choice)
			return
		}
		if err != nil {
			t.answer(p.ID, "")
			return
		}
	}
}

func (t *terminal) answer(id, optionID string) {
	if err := t.respond.RespondToPermission(id, optionID); err != nil {
		t.mu.Lock()
		fmt.Fprintf(t.out, "permission request expired: %v\n", err)
		t.mu.Unlock()
	}
}

// pickOption accepts a 1-based index or an option id.
func pickOption(opts []agentbridge.PermissionOption, input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(opts) {
			return opts[n-1].ID, true
		}
		return "", false
	}
	for _, o := range opts {
		if o.ID == input {
			return o.ID, true
		}
	}
	return "", false
}

// finish ends the output with a newline.
func (t *terminal) finish() {
	t.mu.Lock()
	if t.last != "" {
		fmt.Fprintln(t.out)
		t.last = ""
	}
	t.mu.Unlock()
}

var _ agentbridge.Emitter = (*terminal)(nil)
