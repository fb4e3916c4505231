package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manash/promptbridge/internal/history"
	"github.com/manash/promptbridge/internal/security"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

// rawCommand is implemented by commands that take the rest of the line
// verbatim instead of shell-style words.
type rawCommand interface {
	RawArgs() bool
}

func (r *REPL) registerCommands() {
	r.ordered = []Command{
		&InputCommand{},
		&AppendCommand{},
		&OptimizeCommand{},
		&AnalyzeCommand{},
		&ShowCommand{},
		&CopyCommand{},
		&ModeCommand{},
		&TargetCommand{},
		&AutoCommand{},
		&TemplateCommand{},
		&HistoryCommand{},
		&RestoreCommand{},
		&ClearCommand{},
		&ExportCommand{},
		&ImportCommand{},
		&StatsCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range r.ordered {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// InputCommand replaces the input text
type InputCommand struct{}

func (c *InputCommand) Name() string        { return "input" }
func (c *InputCommand) Aliases() []string   { return []string{"i", "set"} }
func (c *InputCommand) Description() string { return "Replace the prompt text" }
func (c *InputCommand) Usage() string       { return "input <text>" }
func (c *InputCommand) RawArgs() bool       { return true }

func (c *InputCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	r.ctrl.SetInput(args[0])
	r.ctrl.Flush()
	r.displayer.Analysis(r.ctrl.Snapshot().Analysis)
	return nil
}

// AppendCommand adds a line to the input text
type AppendCommand struct{}

func (c *AppendCommand) Name() string        { return "append" }
func (c *AppendCommand) Aliases() []string   { return []string{"+"} }
func (c *AppendCommand) Description() string { return "Append a line to the prompt text" }
func (c *AppendCommand) Usage() string       { return "append <text>" }
func (c *AppendCommand) RawArgs() bool       { return true }

func (c *AppendCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	text := args[0]
	if cur := r.ctrl.Snapshot().Input; cur != "" {
		text = cur + "\n" + text
	}
	r.ctrl.SetInput(text)
	r.ctrl.Flush()
	r.displayer.Analysis(r.ctrl.Snapshot().Analysis)
	return nil
}

// OptimizeCommand sends the input to the provider
type OptimizeCommand struct{}

func (c *OptimizeCommand) Name() string        { return "optimize" }
func (c *OptimizeCommand) Aliases() []string   { return []string{"o", "go"} }
func (c *OptimizeCommand) Description() string { return "Optimize the current prompt" }
func (c *OptimizeCommand) Usage() string       { return "optimize" }

func (c *OptimizeCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	s := r.ctrl.Snapshot()
	fmt.Fprintf(r.out, "Optimizing (%s, %s)...\n", s.Config.Mode, s.Config.Target)

	if err := r.ctrl.Optimize(ctx); err != nil {
		if errors.Is(err, session.ErrEmptyInput) {
			return errors.New("please enter a prompt first (input <text>)")
		}
		return err
	}

	if r.ctrl.Snapshot().AutoIterate {
		fmt.Fprintf(r.out, "Auto-iterating up to %d rounds...\n", session.MaxIterations)
		if err := r.ctrl.Wait(ctx); err != nil {
			return err
		}
		if s := r.ctrl.Snapshot(); s.Status == models.StatusError {
			return errors.New(s.ErrorMessage)
		}
	}

	r.displayer.Output(r.ctrl.Snapshot().Output)
	return nil
}

// AnalyzeCommand shows the heuristic analysis
type AnalyzeCommand struct{}

func (c *AnalyzeCommand) Name() string        { return "analyze" }
func (c *AnalyzeCommand) Aliases() []string   { return []string{"a"} }
func (c *AnalyzeCommand) Description() string { return "Show the prompt analysis" }
func (c *AnalyzeCommand) Usage() string       { return "analyze" }

func (c *AnalyzeCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.ctrl.Flush()
	r.displayer.Analysis(r.ctrl.Snapshot().Analysis)
	return nil
}

// ShowCommand prints the whole session
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"status", "view"} }
func (c *ShowCommand) Description() string { return "Show status, input and output" }
func (c *ShowCommand) Usage() string       { return "show" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.displayer.State(r.ctrl.Snapshot())
	return nil
}

// CopyCommand copies the output to the clipboard
type CopyCommand struct{}

func (c *CopyCommand) Name() string        { return "copy" }
func (c *CopyCommand) Aliases() []string   { return []string{"y"} }
func (c *CopyCommand) Description() string { return "Copy the optimized prompt to the clipboard" }
func (c *CopyCommand) Usage() string       { return "copy" }

func (c *CopyCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	out, err := r.ctrl.Output()
	if err != nil {
		return err
	}
	if r.clipboard == nil {
		return errors.New("clipboard is not available")
	}
	if err := r.clipboard(out); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	r.displayer.Success("Copied to clipboard.")
	return nil
}

// ModeCommand gets or sets the optimization mode
type ModeCommand struct{}

func (c *ModeCommand) Name() string        { return "mode" }
func (c *ModeCommand) Aliases() []string   { return []string{"m"} }
func (c *ModeCommand) Description() string { return "Get or set the optimization mode" }
func (c *ModeCommand) Usage() string       { return "mode [balanced|creative|precise|coding]" }

func (c *ModeCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current mode: %s\n", r.ctrl.Snapshot().Config.Mode)
		fmt.Fprintf(r.out, "Available: %v\n", models.ValidModes())
		return nil
	}
	mode, err := models.ParseMode(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	if err := r.ctrl.SetMode(ctx, mode); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Mode set to: %s\n", mode)
	return nil
}

// TargetCommand gets or sets the target assistant
type TargetCommand struct{}

func (c *TargetCommand) Name() string        { return "target" }
func (c *TargetCommand) Aliases() []string   { return []string{"tgt"} }
func (c *TargetCommand) Description() string { return "Get or set the target assistant" }
func (c *TargetCommand) Usage() string       { return "target [general|chatgpt|claude|gemini]" }

func (c *TargetCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current target: %s\n", r.ctrl.Snapshot().Config.Target)
		fmt.Fprintf(r.out, "Available: %v\n", models.ValidTargets())
		return nil
	}
	target, err := models.ParseTarget(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	if err := r.ctrl.SetTarget(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Target set to: %s\n", target)
	return nil
}

// AutoCommand toggles auto-iteration
type AutoCommand struct{}

func (c *AutoCommand) Name() string        { return "auto" }
func (c *AutoCommand) Aliases() []string   { return nil }
func (c *AutoCommand) Description() string { return "Toggle auto-iteration (up to 3 rounds)" }
func (c *AutoCommand) Usage() string       { return "auto [on|off]" }

func (c *AutoCommand) Execute(_ context.Context, r *REPL, args []string) error {
	on := !r.ctrl.Snapshot().AutoIterate
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on", "true", "yes":
			on = true
		case "off", "false", "no":
			on = false
		default:
			return fmt.Errorf("usage: %s", c.Usage())
		}
	}
	r.ctrl.SetAutoIterate(on)
	if on {
		fmt.Fprintln(r.out, "Auto-iterate: on")
	} else {
		fmt.Fprintln(r.out, "Auto-iterate: off")
	}
	return nil
}

// TemplateCommand lists or loads templates
type TemplateCommand struct{}

func (c *TemplateCommand) Name() string        { return "template" }
func (c *TemplateCommand) Aliases() []string   { return []string{"t", "tpl"} }
func (c *TemplateCommand) Description() string { return "List templates or load one into the input" }
func (c *TemplateCommand) Usage() string       { return "template [id|name]" }
func (c *TemplateCommand) RawArgs() bool       { return true }

func (c *TemplateCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(r.out, "Templates:")
		r.displayer.Templates(session.Templates())
		return nil
	}
	t, err := r.ctrl.LoadTemplate(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Loaded template: %s\n", t.Name)
	fmt.Fprintln(r.out, t.Text)
	return nil
}

// HistoryCommand lists recent optimizations
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show recent optimizations" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.displayer.History(r.ctrl.History())
	return nil
}

// RestoreCommand loads a history record into the session
type RestoreCommand struct{}

func (c *RestoreCommand) Name() string        { return "restore" }
func (c *RestoreCommand) Aliases() []string   { return []string{"r", "load"} }
func (c *RestoreCommand) Description() string { return "Restore a history entry by number or id" }
func (c *RestoreCommand) Usage() string       { return "restore <number|id>" }

func (c *RestoreCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	id, err := history.Resolve(r.ctrl.History(), args[0])
	if err != nil {
		return err
	}
	rec, err := r.ctrl.Restore(id)
	if err != nil {
		return err
	}
	r.displayer.Record(rec)
	return nil
}

// ClearCommand empties the input
type ClearCommand struct{}

func (c *ClearCommand) Name() string        { return "clear" }
func (c *ClearCommand) Aliases() []string   { return []string{"reset"} }
func (c *ClearCommand) Description() string { return "Clear the input and output" }
func (c *ClearCommand) Usage() string       { return "clear" }

func (c *ClearCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.ctrl.Clear()
	fmt.Fprintln(r.out, "Cleared.")
	return nil
}

// ExportCommand writes the session to a JSON file
type ExportCommand struct{}

func (c *ExportCommand) Name() string        { return "export" }
func (c *ExportCommand) Aliases() []string   { return []string{"save"} }
func (c *ExportCommand) Description() string { return "Export the session and history to JSON" }
func (c *ExportCommand) Usage() string       { return "export [file.json]" }

func (c *ExportCommand) Execute(_ context.Context, r *REPL, args []string) error {
	path := session.ExportFileName(r.now())
	if len(args) > 0 {
		path = args[0]
	}
	if err := security.ValidateExportPath(path); err != nil {
		return fmt.Errorf("invalid export path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := r.ctrl.Export(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}

	r.displayer.Success("Exported: " + path)
	return nil
}

// ImportCommand loads a session from a JSON file
type ImportCommand struct{}

func (c *ImportCommand) Name() string        { return "import" }
func (c *ImportCommand) Aliases() []string   { return nil }
func (c *ImportCommand) Description() string { return "Import a session from JSON" }
func (c *ImportCommand) Usage() string       { return "import <file.json>" }

func (c *ImportCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	if err := r.ctrl.Import(ctx, f); err != nil {
		return err
	}
	r.displayer.Success("Imported: " + args[0])
	return nil
}

// StatsCommand shows history statistics
type StatsCommand struct{}

func (c *StatsCommand) Name() string        { return "stats" }
func (c *StatsCommand) Aliases() []string   { return nil }
func (c *StatsCommand) Description() string { return "Show optimization statistics" }
func (c *StatsCommand) Usage() string       { return "stats" }

func (c *StatsCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.displayer.Stats(r.ctrl.Stats(), r.ctrl.HistoryCap())
	return nil
}

// HelpCommand shows help
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range r.ordered {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-20s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                      Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}
