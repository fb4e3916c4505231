// Package repl implements the line-oriented interactive editor.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/session"
)

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	ctrl      *session.Controller
	displayer *display.Displayer
	clipboard func(string) error
	now       func() time.Time
	commands  map[string]Command
	ordered   []Command
	running   bool
}

type Config struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Controller *session.Controller
	Displayer  *display.Displayer
	// Clipboard copies text to the system clipboard. Nil disables copy.
	Clipboard func(string) error
	Now       func() time.Time
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		ctrl:      cfg.Controller,
		displayer: cfg.Displayer,
		clipboard: cfg.Clipboard,
		now:       cfg.Now,
		commands:  make(map[string]Command),
	}
	if r.displayer == nil {
		r.displayer = display.New(r.out)
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)

	cmd, ok := r.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", name)
	}

	var args []string
	if raw, ok := cmd.(rawCommand); ok && raw.RawArgs() {
		if rest = strings.TrimSpace(rest); rest != "" {
			args = []string{rest}
		}
	} else {
		args = parseCommand(rest)
	}
	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "promptbridge interactive mode")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	s := r.ctrl.Snapshot()
	if s.AutoIterate {
		fmt.Fprintf(r.out, "promptbridge [%s/%s auto]> ", s.Config.Mode, s.Config.Target)
		return
	}
	fmt.Fprintf(r.out, "promptbridge [%s/%s]> ", s.Config.Mode, s.Config.Target)
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case (ch == ' ' || ch == '\t') && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
