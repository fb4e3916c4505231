package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manash/promptbridge/internal/analyzer"
	"github.com/manash/promptbridge/internal/batch"
	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/optimizer"
	"github.com/manash/promptbridge/internal/repl"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/internal/tui"
	"github.com/manash/promptbridge/internal/watch"
	"github.com/manash/promptbridge/pkg/models"
)

var (
	flagFile         string
	flagMode         string
	flagTarget       string
	flagCopy         bool
	flagAuto         bool
	flagShowAnalysis bool
	flagJSON         bool
	flagWatchOpt     bool
	flagSettle       time.Duration
	flagOutputDir    string
	flagParallel     int
	flagStopOnError  bool
	flagDelayMs      int
)

// promptText returns the --file contents, or joins args into the prompt,
// reading stdin when there are none or the only arg is "-".
func promptText(app *App, args []string) (string, error) {
	if flagFile != "" {
		if len(args) > 0 {
			return "", errors.New("give the prompt as arguments or --file, not both")
		}
		data, err := os.ReadFile(flagFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(app.In)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

func parseModeTarget(mode, target string) (models.OptimizationMode, models.TargetAI, error) {
	var m models.OptimizationMode
	var t models.TargetAI
	var err error
	if mode != "" {
		if m, err = models.ParseMode(strings.ToLower(mode)); err != nil {
			return "", "", err
		}
	}
	if target != "" {
		if t, err = models.ParseTarget(strings.ToLower(target)); err != nil {
			return "", "", err
		}
	}
	return m, t, nil
}

func newOptimizeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "optimize [prompt]",
		Aliases: []string{"o"},
		Short:   "Rewrite a prompt into a structured prompt",
		Long: `Rewrite a prompt into a structured prompt. With no argument, or "-", the
prompt is read from stdin. --mode and --target are remembered for later runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd, args, app)
		},
	}
	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "read the prompt from a file")
	cmd.Flags().StringVarP(&flagMode, "mode", "m", "", "optimization mode (balanced, creative, precise, coding)")
	cmd.Flags().StringVarP(&flagTarget, "target", "t", "", "target assistant (general, chatgpt, claude, gemini)")
	cmd.Flags().BoolVarP(&flagCopy, "copy", "c", false, "copy the optimized prompt to the clipboard")
	cmd.Flags().BoolVarP(&flagAuto, "auto", "a", false, "auto-iterate up to three rounds")
	cmd.Flags().BoolVar(&flagShowAnalysis, "analysis", false, "print the prompt analysis to stderr first")
	return cmd
}

func runOptimize(cmd *cobra.Command, args []string, app *App) error {
	ctx := cmd.Context()

	text, err := promptText(app, args)
	if err != nil {
		return err
	}
	mode, target, err := parseModeTarget(flagMode, flagTarget)
	if err != nil {
		return err
	}

	e, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if mode != "" {
		if err := e.ctrl.SetMode(ctx, mode); err != nil {
			return err
		}
	}
	if target != "" {
		if err := e.ctrl.SetTarget(ctx, target); err != nil {
			return err
		}
	}

	e.ctrl.SetInput(strings.TrimSpace(text))
	e.ctrl.Flush()
	if flagShowAnalysis {
		display.New(app.Err).Analysis(e.ctrl.Snapshot().Analysis)
	}

	e.ctrl.SetAutoIterate(flagAuto)
	if err := e.ctrl.Optimize(ctx); err != nil {
		if errors.Is(err, session.ErrEmptyInput) {
			return optimizer.ErrEmptyInput
		}
		return err
	}
	if flagAuto {
		if err := e.ctrl.Wait(ctx); err != nil {
			return err
		}
	}

	out, err := e.ctrl.Output()
	if err != nil {
		if s := e.ctrl.Snapshot(); s.ErrorMessage != "" {
			return errors.New(s.ErrorMessage)
		}
		return err
	}
	fmt.Fprintln(app.Out, out)

	if flagCopy {
		if app.Clipboard == nil {
			return errors.New("clipboard is not available")
		}
		if err := app.Clipboard(out); err != nil {
			return fmt.Errorf("failed to copy to clipboard: %w", err)
		}
		fmt.Fprintln(app.Err, "Copied to clipboard.")
	}
	return nil
}

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analyze [prompt]",
		Aliases: []string{"a"},
		Short:   "Score a prompt and suggest improvements without calling a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(args, app)
		},
	}
	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "read the prompt from a file")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "print the analysis as JSON")
	return cmd
}

func runAnalyze(args []string, app *App) error {
	text, err := promptText(app, args)
	if err != nil {
		return err
	}

	var a *models.Analysis
	if analyzer.ShouldAnalyze(text) {
		result := analyzer.Analyze(text)
		a = &result
	}

	if flagJSON {
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	display.New(app.Out).Analysis(a)
	return nil
}

func newREPLCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive line-oriented session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := app.openSession(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			return repl.New(&repl.Config{
				In:         app.In,
				Out:        app.Out,
				Err:        app.Err,
				Controller: e.ctrl,
				Displayer:  e.displayer,
				Clipboard:  app.Clipboard,
			}).Run(ctx)
		},
	}
}

func newEditCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open the full-screen prompt editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.IsTerminal == nil || !app.IsTerminal() {
				return errors.New("edit needs an interactive terminal: use 'promptbridge repl' instead")
			}

			ctx := cmd.Context()
			e, err := app.openSession(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			var opts []tui.Option
			if app.Clipboard != nil {
				opts = append(opts, tui.WithClipboard(app.Clipboard))
			}
			return tui.Run(ctx, e.ctrl, opts...)
		},
	}
}

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-analyze a prompt file every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := app.openSession(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			w, err := watch.New(args[0], e.ctrl, e.displayer,
				watch.WithOptimize(flagWatchOpt),
				watch.WithSettle(flagSettle),
				watch.WithLogger(e.logger))
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Err, "Watching %s (ctrl+c to stop)\n", args[0])
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&flagWatchOpt, "optimize", false, "also optimize the prompt on every save")
	cmd.Flags().DurationVar(&flagSettle, "settle", watch.DefaultSettle, "quiet period before a changed file is re-read")
	return cmd
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Optimize every prompt in a .txt or .json file",
		Long: `Optimize every prompt in a file. Text files hold one prompt per line;
blank lines and lines starting with # are skipped. JSON files hold an array
of {"prompt", "mode", "target"} objects. Results are added to the history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, app)
		},
	}
	cmd.Flags().StringVarP(&flagOutputDir, "output-dir", "o", "", "write each optimized prompt to a file in this directory")
	cmd.Flags().StringVarP(&flagMode, "mode", "m", "", "default mode for prompts that do not set one")
	cmd.Flags().StringVarP(&flagTarget, "target", "t", "", "default target for prompts that do not set one")
	cmd.Flags().IntVarP(&flagParallel, "parallel", "P", 1, "number of prompts optimized at once")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failure")
	cmd.Flags().IntVar(&flagDelayMs, "delay", 0, "delay between sequential requests in milliseconds")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string, app *App) error {
	ctx := cmd.Context()

	items, err := batch.ParseFile(args[0])
	if err != nil {
		return err
	}
	mode, target, err := parseModeTarget(flagMode, flagTarget)
	if err != nil {
		return err
	}

	e, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.client.Configured() {
		return optimizer.ErrConfiguration
	}

	cfg := e.ctrl.Snapshot().Config
	if mode == "" {
		mode = cfg.Mode
	}
	if target == "" {
		target = cfg.Target
	}

	p := batch.NewProcessor(e.client, e.history, app.Out, app.Err, batch.WithLogger(e.logger))
	results, err := p.Process(ctx, items, &batch.Options{
		OutputDir:   flagOutputDir,
		Mode:        mode,
		Target:      target,
		Parallel:    flagParallel,
		StopOnError: flagStopOnError,
		DelayMs:     flagDelayMs,
	})
	e.metrics.SetHistoryRecords(e.history.Len())
	if results != nil {
		p.PrintSummary(results)
	}
	return err
}
