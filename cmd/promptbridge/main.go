package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/provider"
	"github.com/manash/promptbridge/internal/provider/anthropic"
	"github.com/manash/promptbridge/internal/provider/gemini"
	"github.com/manash/promptbridge/internal/provider/openai"
	"github.com/manash/promptbridge/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig      string
	flagDB          string
	flagEphemeral   bool
	flagVerbose     bool
	flagMetricsAddr string
	flagProvider    string
	flagModel       string
	flagAPIKey      string
)

type App struct {
	Out        io.Writer
	Err        io.Writer
	In         io.Reader
	GetEnv     func(string) string
	Providers  *provider.Factory
	Clipboard  func(string) error
	// IsTerminal reports whether the full-screen editor can run.
	IsTerminal func() bool
}

func DefaultApp() *App {
	return &App{
		Out:        os.Stdout,
		Err:        os.Stderr,
		In:         os.Stdin,
		GetEnv:     os.Getenv,
		Providers:  newProviderFactory(),
		Clipboard:  clipboard.WriteAll,
		IsTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) && display.IsColorTerminal(os.Stdout) },
	}
}

func newProviderFactory() *provider.Factory {
	f := provider.NewFactory()
	f.Register(models.ProviderGemini, func(cfg *provider.Config) (provider.Provider, error) {
		return gemini.New(cfg)
	})
	f.Register(models.ProviderOpenAI, func(cfg *provider.Config) (provider.Provider, error) {
		return openai.New(cfg)
	})
	f.Register(models.ProviderAnthropic, func(cfg *provider.Config) (provider.Provider, error) {
		return anthropic.New(cfg)
	})
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := DefaultApp()
	return newRootCmd(app).ExecuteContext(ctx)
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promptbridge",
		Short: "Turn rough ideas into structured prompts for AI assistants",
		Long: `promptbridge analyzes prompts as you write them and rewrites them into
structured prompts through Gemini, OpenAI or Anthropic.

Examples:
  promptbridge optimize "write a blog post about go generics"
  promptbridge analyze "summarize this article"
  promptbridge repl
  promptbridge edit
  promptbridge batch prompts.txt --output-dir optimized`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)
	cmd.SetIn(app.In)

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default <config dir>/config.yaml)")
	pf.StringVar(&flagDB, "db", "", "state database (default ~/.promptbridge/state.db)")
	pf.BoolVar(&flagEphemeral, "ephemeral", false, "keep history and settings in memory only")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. localhost:9090)")
	pf.StringVarP(&flagProvider, "provider", "p", "", "provider to use (gemini, openai, anthropic)")
	pf.StringVar(&flagModel, "model", "", "model override for the provider")
	pf.StringVar(&flagAPIKey, "api-key", "", "API key (defaults to stored key, then environment)")

	cmd.AddCommand(
		newOptimizeCmd(app),
		newAnalyzeCmd(app),
		newREPLCmd(app),
		newEditCmd(app),
		newWatchCmd(app),
		newBatchCmd(app),
		newHistoryCmd(app),
		newStatsCmd(app),
		newExportCmd(app),
		newImportCmd(app),
		newTemplatesCmd(app),
		newConfigCmd(app),
		newKeysCmd(app),
		newDBCmd(app),
	)
	return cmd
}
