package repl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/internal/storage"
	"github.com/manash/promptbridge/pkg/models"
)

type optimizerFunc func(ctx context.Context, req models.OptimizeRequest) (string, error)

func (f optimizerFunc) Optimize(ctx context.Context, req models.OptimizeRequest) (string, error) {
	return f(ctx, req)
}

func echoOptimizer() optimizerFunc {
	return func(_ context.Context, req models.OptimizeRequest) (string, error) {
		return "optimized: " + req.Text, nil
	}
}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

// idleScheduler never fires; the commands flush analysis explicitly.
type idleScheduler struct{}

func (idleScheduler) AfterFunc(time.Duration, func()) session.Timer { return idleTimer{} }

type testEnv struct {
	repl   *REPL
	out    *bytes.Buffer
	errOut *bytes.Buffer
	ctrl   *session.Controller
	copied []string
}

func newTestEnv(t *testing.T, input string, opt session.Optimizer, opts ...session.Option) *testEnv {
	t.Helper()
	all := append([]session.Option{
		session.WithScheduler(idleScheduler{}),
		session.WithScoreBonus(func() float64 { return 0 }),
	}, opts...)
	ctrl := session.NewController(opt, nil, storage.NewMemory(), all...)

	env := &testEnv{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, ctrl: ctrl}
	env.repl = New(&Config{
		In:         strings.NewReader(input),
		Out:        env.out,
		Err:        env.errOut,
		Controller: ctrl,
		Displayer:  display.New(env.out),
		Clipboard: func(s string) error {
			env.copied = append(env.copied, s)
			return nil
		},
		Now: func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	return env
}

func (e *testEnv) run(t *testing.T) {
	t.Helper()
	if err := e.repl.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestREPL_CommandsRegistered(t *testing.T) {
	env := newTestEnv(t, "", echoOptimizer())

	for _, name := range []string{"input", "append", "optimize", "analyze", "show", "copy", "mode", "target",
		"auto", "template", "history", "restore", "clear", "export", "import", "stats", "help", "quit"} {
		if _, ok := env.repl.commands[name]; !ok {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, alias := range []string{"o", "y", "h", "q", "?", "t"} {
		if _, ok := env.repl.commands[alias]; !ok {
			t.Errorf("alias %q not registered", alias)
		}
	}
}

func TestREPL_Run_Quit(t *testing.T) {
	env := newTestEnv(t, "quit\ninput never reached\n", echoOptimizer())
	env.run(t)

	if !strings.Contains(env.out.String(), "Goodbye!") {
		t.Errorf("output should contain 'Goodbye!', got: %s", env.out.String())
	}
	if env.ctrl.Snapshot().Input != "" {
		t.Error("commands after quit should not run")
	}
}

func TestREPL_Run_Help(t *testing.T) {
	env := newTestEnv(t, "help\nquit\n", echoOptimizer())
	env.run(t)

	for _, want := range []string{"Available commands:", "optimize (o, go)", "Usage: restore <number|id>", "quit (exit, q)"} {
		if !strings.Contains(env.out.String(), want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestREPL_Run_UnknownCommand(t *testing.T) {
	env := newTestEnv(t, "frobnicate\nquit\n", echoOptimizer())
	env.run(t)

	if !strings.Contains(env.errOut.String(), "unknown command: frobnicate") {
		t.Errorf("error output = %q", env.errOut.String())
	}
}

func TestREPL_PromptShowsConfiguration(t *testing.T) {
	env := newTestEnv(t, "mode coding\nauto on\nquit\n", echoOptimizer())
	env.run(t)

	out := env.out.String()
	if !strings.Contains(out, "promptbridge [balanced/general]> ") {
		t.Errorf("missing default prompt in %q", out)
	}
	if !strings.Contains(out, "promptbridge [coding/general auto]> ") {
		t.Errorf("missing updated prompt in %q", out)
	}
}

func TestInputCommand_KeepsQuotesVerbatim(t *testing.T) {
	env := newTestEnv(t, "input don't use \"quotes\" here, please\nquit\n", echoOptimizer())
	env.run(t)

	if got := env.ctrl.Snapshot().Input; got != `don't use "quotes" here, please` {
		t.Errorf("Input = %q", got)
	}
	if !strings.Contains(env.out.String(), "Clarity") {
		t.Error("input should print the analysis")
	}
}

func TestAppendCommand(t *testing.T) {
	env := newTestEnv(t, "append first line\nappend - second line\nquit\n", echoOptimizer())
	env.run(t)

	if got := env.ctrl.Snapshot().Input; got != "first line\n- second line" {
		t.Errorf("Input = %q", got)
	}
}

func TestOptimizeCommand(t *testing.T) {
	env := newTestEnv(t, "input Write a function that sorts numbers\noptimize\nhistory\nquit\n", echoOptimizer())
	env.run(t)

	out := env.out.String()
	if !strings.Contains(out, "Optimizing (balanced, general)...") {
		t.Errorf("missing progress line in %q", out)
	}
	if !strings.Contains(out, "optimized: Write a function that sorts numbers") {
		t.Errorf("missing output in %q", out)
	}
	if len(env.ctrl.History()) != 1 {
		t.Errorf("history length = %d, want 1", len(env.ctrl.History()))
	}
	if env.errOut.Len() != 0 {
		t.Errorf("unexpected errors: %s", env.errOut.String())
	}
}

func TestOptimizeCommand_EmptyInput(t *testing.T) {
	env := newTestEnv(t, "optimize\nquit\n", echoOptimizer())
	env.run(t)

	if !strings.Contains(env.errOut.String(), "please enter a prompt first") {
		t.Errorf("error output = %q", env.errOut.String())
	}
}

func TestOptimizeCommand_ProviderFailure(t *testing.T) {
	fail := optimizerFunc(func(context.Context, models.OptimizeRequest) (string, error) {
		return "", errors.New("optimization failed: quota exceeded")
	})
	env := newTestEnv(t, "input hello there\noptimize\nshow\nquit\n", fail)
	env.run(t)

	if !strings.Contains(env.errOut.String(), "quota exceeded") {
		t.Errorf("error output = %q", env.errOut.String())
	}
	if !strings.Contains(env.out.String(), "Status: error") {
		t.Errorf("show should report the error status: %q", env.out.String())
	}
}

func TestOptimizeCommand_AutoIterate(t *testing.T) {
	var calls atomic.Int32
	opt := optimizerFunc(func(_ context.Context, req models.OptimizeRequest) (string, error) {
		calls.Add(1)
		return req.Text + "+", nil
	})
	env := newTestEnv(t, "auto on\ninput start prompt\noptimize\nquit\n", opt,
		session.WithScheduler(session.RealScheduler), session.WithAutoIterateDelay(0))
	env.run(t)

	if got := calls.Load(); got != session.MaxIterations {
		t.Errorf("optimizer called %d times, want %d", got, session.MaxIterations)
	}
	if !strings.Contains(env.out.String(), "start prompt+++") {
		t.Errorf("final output missing in %q", env.out.String())
	}
}

func TestModeCommand(t *testing.T) {
	env := newTestEnv(t, "mode\nmode PRECISE\nmode loud\nquit\n", echoOptimizer())
	env.run(t)

	out := env.out.String()
	if !strings.Contains(out, "Current mode: balanced") || !strings.Contains(out, "Mode set to: precise") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(env.errOut.String(), "invalid optimization mode") {
		t.Errorf("error output = %q", env.errOut.String())
	}
	if env.ctrl.Snapshot().Config.Mode != models.ModePrecise {
		t.Errorf("Mode = %s", env.ctrl.Snapshot().Config.Mode)
	}
}

func TestTargetCommand(t *testing.T) {
	env := newTestEnv(t, "target claude\ntarget\nquit\n", echoOptimizer())
	env.run(t)

	if !strings.Contains(env.out.String(), "Current target: claude") {
		t.Errorf("output = %q", env.out.String())
	}
}

func TestAutoCommand(t *testing.T) {
	env := newTestEnv(t, "auto\nauto off\nauto maybe\nquit\n", echoOptimizer())
	env.run(t)

	out := env.out.String()
	if !strings.Contains(out, "Auto-iterate: on") || !strings.Contains(out, "Auto-iterate: off") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(env.errOut.String(), "usage: auto") {
		t.Errorf("error output = %q", env.errOut.String())
	}
	if env.ctrl.Snapshot().AutoIterate {
		t.Error("auto-iterate should be off")
	}
}

func TestTemplateCommand(t *testing.T) {
	env := newTestEnv(t, "template\ntemplate Learning Path\ntemplate poetry\nquit\n", echoOptimizer())
	env.run(t)

	out := env.out.String()
	if !strings.Contains(out, "brainstorm") {
		t.Errorf("template list missing in %q", out)
	}
	if !strings.Contains(out, "Loaded template: Learning Path") {
		t.Errorf("load message missing in %q", out)
	}
	if !strings.HasPrefix(env.ctrl.Snapshot().Input, "Create a learning roadmap") {
		t.Errorf("Input = %q", env.ctrl.Snapshot().Input)
	}
	if !strings.Contains(env.errOut.String(), "unknown template") {
		t.Errorf("error output = %q", env.errOut.String())
	}
}

func TestRestoreCommand(t *testing.T) {
	env := newTestEnv(t, "input first prompt text\noptimize\ninput second prompt text\noptimize\nrestore 2\nrestore 1234567890123\nquit\n", echoOptimizer())
	env.run(t)

	s := env.ctrl.Snapshot()
	if s.Input != "first prompt text" || s.Output != "optimized: first prompt text" {
		t.Errorf("restored state = %q / %q", s.Input, s.Output)
	}
	if !strings.Contains(env.errOut.String(), "no entry #1234567890123") {
		t.Errorf("error output = %q", env.errOut.String())
	}
}

func TestCopyCommand(t *testing.T) {
	env := newTestEnv(t, "copy\ninput hello\noptimize\ncopy\nquit\n", echoOptimizer())
	env.run(t)

	if !strings.Contains(env.errOut.String(), "no output to copy") {
		t.Errorf("error output = %q", env.errOut.String())
	}
	if len(env.copied) != 1 || env.copied[0] != "optimized: hello" {
		t.Errorf("copied = %v", env.copied)
	}
	if !strings.Contains(env.out.String(), "Copied to clipboard.") {
		t.Errorf("output = %q", env.out.String())
	}
}

func TestCopyCommand_NoClipboard(t *testing.T) {
	env := newTestEnv(t, "input hello\noptimize\ncopy\nquit\n", echoOptimizer())
	env.repl.clipboard = nil
	env.run(t)

	if !strings.Contains(env.errOut.String(), "clipboard is not available") {
		t.Errorf("error output = %q", env.errOut.String())
	}
}

func TestClearCommand(t *testing.T) {
	env := newTestEnv(t, "input hello\noptimize\nclear\nquit\n", echoOptimizer())
	env.run(t)

	s := env.ctrl.Snapshot()
	if s.Input != "" || s.Output != "" || s.Status != models.StatusIdle {
		t.Errorf("state after clear = %+v", s)
	}
}

func TestExportImportCommands(t *testing.T) {
	t.Chdir(t.TempDir())

	env := newTestEnv(t, "mode coding\ninput hello there\noptimize\nexport\nexport ../escape.json\nquit\n", echoOptimizer())
	env.run(t)

	name := session.ExportFileName(time.UnixMilli(1_700_000_000_000))
	if _, err := os.Stat(name); err != nil {
		t.Fatalf("export file not written: %v", err)
	}
	if !strings.Contains(env.errOut.String(), "invalid export path") {
		t.Errorf("traversal should be rejected: %q", env.errOut.String())
	}

	dst := newTestEnv(t, "import "+name+"\nimport missing.json\nshow\nquit\n", echoOptimizer())
	dst.run(t)

	s := dst.ctrl.Snapshot()
	if s.Input != "hello there" || s.Config.Mode != models.ModeCoding || len(dst.ctrl.History()) != 1 {
		t.Errorf("imported state = %+v, history %d", s, len(dst.ctrl.History()))
	}
	if !strings.Contains(dst.errOut.String(), "failed to open import file") {
		t.Errorf("error output = %q", dst.errOut.String())
	}
}

func TestImportCommand_InvalidDocument(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := os.WriteFile("bad.json", []byte(`{"mode":"loud"}`), 0600); err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t, "import bad.json\nquit\n", echoOptimizer())
	env.run(t)

	if !strings.Contains(env.errOut.String(), "import failed") {
		t.Errorf("error output = %q", env.errOut.String())
	}
	if env.ctrl.Snapshot().Config.Mode != models.ModeBalanced {
		t.Error("invalid import should not change the mode")
	}
}

func TestStatsCommand(t *testing.T) {
	env := newTestEnv(t, "input hello\noptimize\nstats\nquit\n", echoOptimizer())
	env.run(t)

	if !strings.Contains(env.out.String(), "Prompts optimized: 1 / 50") {
		t.Errorf("output = %q", env.out.String())
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple", "claude", []string{"claude"}},
		{"double quotes", `"Code Generation"`, []string{"Code Generation"}},
		{"single quotes", `'my file.json'`, []string{"my file.json"}},
		{"multiple arguments", "a b c", []string{"a", "b", "c"}},
		{"empty input", "", nil},
		{"whitespace only", "   ", nil},
		{"tabs and spaces", "on\t  off", []string{"on", "off"}},
		{"nested quote", `"it's"`, []string{"it's"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCommand(tt.input)
			if len(got) != len(tt.want) {
				t.Errorf("parseCommand() = %v, want %v", got, tt.want)
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseCommand()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCommand_Interface(t *testing.T) {
	env := newTestEnv(t, "", echoOptimizer())
	for _, cmd := range env.repl.ordered {
		if cmd.Name() == "" || cmd.Description() == "" || cmd.Usage() == "" {
			t.Errorf("command %T has empty metadata", cmd)
		}
	}
}
