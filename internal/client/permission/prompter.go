package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/zonemedia/internal/client/repositories/kv"
	"golang.org/x/term"
)

// GrantKey is the metadata key holding a persisted answer.
const GrantKey = "media_access"

const (
	grantedValue = "granted"
	deniedValue  = "denied"
)

// Static is a Prompter with a fixed answer, for headless runs and tests.
type Static bool

func (s Static) Status(context.Context) (Status, error) {
	if s {
		return StatusGranted, nil
	}
	return StatusUndetermined, nil
}

func (s Static) Request(context.Context) (bool, error) { return bool(s), nil }

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// TerminalPrompter asks on the controlling terminal and remembers the answer
// in the metadata store, so the question is asked once per device rather
// than once per run.
type TerminalPrompter struct {
	store kv.Repository
	in    *bufio.Reader
	out   io.Writer
	fd    int
}

// NewTerminalPrompter reads answers from in. A *bufio.Reader is used as is,
// so the prompter can share one buffered stdin with an interactive shell
// without either side swallowing the other's lines.
func NewTerminalPrompter(store kv.Repository, in io.Reader, out io.Writer) *TerminalPrompter {
	p := &TerminalPrompter{store: store, in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
	}
	return p
}

// WithTerminal names the file whose terminal state decides whether Request
// may prompt, for when in wraps that file.
func (p *TerminalPrompter) WithTerminal(f *os.File) *TerminalPrompter {
	p.fd = int(f.Fd())
	return p
}

func (p *TerminalPrompter) Status(ctx context.Context) (Status, error) {
	v, err := p.store.Get(ctx, GrantKey)
	if err != nil {
		return StatusUndetermined, fmt.Errorf("failed to read %s: %w", GrantKey, err)
	}
	switch string(v) {
	case grantedValue:
		return StatusGranted, nil
	case deniedValue:
		return StatusDenied, nil
	}
	return StatusUndetermined, nil
}

// Request prompts for y/n. Without an interactive terminal it denies
// without persisting, so a later interactive run still gets asked.
func (p *TerminalPrompter) Request(ctx context.Context) (bool, error) {
	if p.fd < 0 || !isTerminal(p.fd) {
		return false, nil
	}

	if _, err := fmt.Fprint(p.out, "Allow zonemedia to read and write your media library? [y/N] "); err != nil {
		return false, err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	granted := answer == "y" || answer == "yes"

	value := deniedValue
	if granted {
		value = grantedValue
	}
	if err := p.store.Set(ctx, GrantKey, []byte(value)); err != nil {
		return granted, fmt.Errorf("failed to persist %s: %w", GrantKey, err)
	}
	return granted, nil
}

// Grant records access ahead of time, e.g. from a config flag.
func (p *TerminalPrompter) Grant(ctx context.Context) error {
	return p.store.Set(ctx, GrantKey, []byte(grantedValue))
}
