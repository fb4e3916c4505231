package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manash/promptbridge/internal/config"
	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/history"
	"github.com/manash/promptbridge/internal/keys"
	"github.com/manash/promptbridge/internal/security"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/internal/storage"
	"github.com/manash/promptbridge/pkg/models"
)

// getKeyStore is a var so tests can point it at a temp dir.
var getKeyStore = keys.NewStore

func newHistoryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "history [list|show <id>|clear]",
		Aliases: []string{"h"},
		Short:   "List, show or clear past optimizations",
		Long: `List, show or clear past optimizations. Records can be referred to by
their position in the list, their full id or a unique id suffix.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), app, args)
		},
	}
}

func runHistory(ctx context.Context, app *App, args []string) error {
	e, err := app.openStorage(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list":
		e.displayer.History(e.history.List())
		return nil

	case "show":
		if len(args) < 2 {
			return errors.New("usage: promptbridge history show <id>")
		}
		id, err := history.Resolve(e.history.List(), args[1])
		if err != nil {
			return err
		}
		rec, err := e.history.Get(id)
		if err != nil {
			return err
		}
		e.displayer.Record(rec)
		return nil

	case "clear":
		n := e.history.Len()
		e.ctrl.ClearHistory(ctx)
		e.displayer.Success(fmt.Sprintf("Cleared %d history records.", n))
		return nil

	default:
		return fmt.Errorf("unknown history subcommand %q: use list, show or clear", sub)
	}
}

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show optimization count and average quality score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			e.displayer.Stats(e.history.Stats(), e.history.Cap())
			return nil
		},
	}
}

func newExportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write settings and history to a JSON file (\"-\" for stdout)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 1 && args[0] == "-" {
				return e.ctrl.Export(app.Out)
			}

			path := session.ExportFileName(time.Now())
			if len(args) == 1 {
				path = args[0]
			}
			if err := security.ValidateExportPath(path); err != nil {
				return fmt.Errorf("invalid export path: %w", err)
			}

			f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			if err := e.ctrl.Export(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}

			e.displayer.Success(fmt.Sprintf("Exported %d history records to %s", e.history.Len(), path))
			return nil
		},
	}
}

func newImportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore settings and history from an exported JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := app.openStorage(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()

			if err := e.ctrl.Import(ctx, f); err != nil {
				return err
			}

			cfg := e.ctrl.Snapshot().Config
			e.displayer.Success(fmt.Sprintf("Imported %s: %d history records, mode %s, target %s",
				args[0], e.history.Len(), cfg.Mode, cfg.Target))
			return nil
		},
	}
}

func newTemplatesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "templates [name]",
		Aliases: []string{"tpl"},
		Short:   "List the built-in prompt templates or print one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				display.New(app.Out).Templates(session.Templates())
				return nil
			}
			t, err := session.FindTemplate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, t.Text)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "config [show|set <key> <value>|path]",
		Short: "Show or change settings",
		Long: `Show or change settings. mode and target are stored with the session
state; every other key lives in the config file.

Keys: mode, target, ` + strings.Join(config.Keys(), ", "),
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.Context(), app, args)
		},
	}
}

func runConfig(ctx context.Context, app *App, args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "path":
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(app.Out, path)
		return nil

	case "show":
		e, err := app.openStorage(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		s := e.ctrl.Snapshot()
		fmt.Fprintf(app.Out, "%-19s %s\n", "mode", s.Config.Mode)
		fmt.Fprintf(app.Out, "%-19s %s\n", "target", s.Config.Target)
		for _, k := range config.Keys() {
			v, _ := e.cfg.Get(k)
			if v == "" {
				v = "(default)"
			}
			fmt.Fprintf(app.Out, "%-19s %s\n", k, v)
		}
		return nil

	case "set":
		if len(args) != 3 {
			return errors.New("usage: promptbridge config set <key> <value>")
		}
		return setConfig(ctx, app, args[1], args[2])

	default:
		return fmt.Errorf("unknown config subcommand %q: use show, set or path", sub)
	}
}

func setConfig(ctx context.Context, app *App, key, value string) error {
	switch key {
	case "mode", "target":
		e, err := app.openStorage(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if key == "mode" {
			m, err := models.ParseMode(strings.ToLower(value))
			if err != nil {
				return err
			}
			if err := e.ctrl.SetMode(ctx, m); err != nil {
				return err
			}
		} else {
			t, err := models.ParseTarget(strings.ToLower(value))
			if err != nil {
				return err
			}
			if err := e.ctrl.SetTarget(ctx, t); err != nil {
				return err
			}
		}

	default:
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if key == "base_url" {
			if err := security.ValidateBaseURL(cfg.BaseURL); err != nil {
				return fmt.Errorf("invalid base_url: %w", err)
			}
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
	}

	fmt.Fprintf(app.Out, "%s set to %s\n", key, value)
	return nil
}

func newKeysCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [set <provider> [key]|get <provider>|delete <provider>|list]",
		Short: "Manage stored provider API keys",
		Long: `Manage stored provider API keys. "set" reads the key from stdin when it is
not given as an argument. Stored keys take priority over environment
variables; --api-key overrides both.`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return runKeys(app, args)
		},
	}
}

func runKeys(app *App, args []string) error {
	store, err := getKeyStore()
	if err != nil {
		return err
	}

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	providerArg := func() (models.ProviderType, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("usage: promptbridge keys %s <provider>", sub)
		}
		p := models.ProviderType(strings.ToLower(args[1]))
		if !p.IsValid() {
			return "", fmt.Errorf("invalid provider %q: must be one of %v", args[1], models.ValidProviders())
		}
		return p, nil
	}

	switch sub {
	case "list":
		stored, err := store.List()
		if err != nil {
			return err
		}
		if len(stored) == 0 {
			fmt.Fprintln(app.Out, "No stored keys.")
			return nil
		}
		for _, name := range stored {
			key, err := store.Get(models.ProviderType(name))
			if err != nil {
				continue
			}
			fmt.Fprintf(app.Out, "%-10s %s\n", name, keys.MaskKey(key))
		}
		return nil

	case "set":
		p, err := providerArg()
		if err != nil {
			return err
		}
		var key string
		if len(args) == 3 {
			key = args[2]
		} else {
			fmt.Fprintf(app.Err, "Enter %s API key: ", p)
			line, err := bufio.NewReader(app.In).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read key: %w", err)
			}
			key = strings.TrimSpace(line)
		}
		if err := store.Set(p, key); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Stored %s key in %s\n", p, store.Path())
		return nil

	case "get":
		p, err := providerArg()
		if err != nil {
			return err
		}
		key, source, err := keys.Resolve(flagAPIKey, p, store, app.GetEnv)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%s (from %s)\n", keys.MaskKey(key), source)
		return nil

	case "delete":
		p, err := providerArg()
		if err != nil {
			return err
		}
		if err := store.Delete(p); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Deleted %s key\n", p)
		return nil

	default:
		return fmt.Errorf("unknown keys subcommand %q: use set, get, delete or list", sub)
	}
}

func newDBCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "db [info|reset]",
		Short: "Inspect or reset the state database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(cmd.Context(), app, args)
		},
	}
}

func runDB(ctx context.Context, app *App, args []string) error {
	e, err := app.openStorage(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sub := "info"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "info":
		if e.db == nil {
			fmt.Fprintln(app.Out, "Storage: in-memory (--ephemeral)")
		} else {
			fmt.Fprintf(app.Out, "Database: %s\n", e.db.Path())
		}
		fmt.Fprintf(app.Out, "History records: %d/%d\n", e.history.Len(), e.history.Cap())
		if e.db == nil {
			return nil
		}
		stored, err := e.db.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range stored {
			updated, err := e.db.UpdatedAt(ctx, k)
			if err != nil {
				continue
			}
			fmt.Fprintf(app.Out, "  %-22s updated %s\n", k, updated.Local().Format(time.DateTime))
		}
		return nil

	case "reset":
		for _, k := range []string{storage.KeyHistory, storage.KeyMode, storage.KeyTarget} {
			if err := e.kv.Delete(ctx, k); err != nil {
				return fmt.Errorf("failed to reset %s: %w", k, err)
			}
		}
		e.displayer.Success("State reset: history, mode and target cleared.")
		return nil

	default:
		return fmt.Errorf("unknown db subcommand %q: use info or reset", sub)
	}
}
