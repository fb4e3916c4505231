// Package watch re-analyzes a prompt file every time it is saved.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/session"
)

// DefaultSettle is how long the file must be quiet before it is re-read.
// Editors often emit several events for one save.
const DefaultSettle = 100 * time.Millisecond

// Watcher feeds the contents of a single file into a session.
type Watcher struct {
	path     string
	ctrl     *session.Controller
	disp     *display.Displayer
	optimize bool
	settle   time.Duration
	logger   *slog.Logger
	onReload func(session.State)

	last   string
	loaded bool
}

type Option func(*Watcher)

// WithOptimize makes every change also run the optimizer.
func WithOptimize(on bool) Option {
	return func(w *Watcher) { w.optimize = on }
}

func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithOnReload registers fn to run after each reload has been displayed.
func WithOnReload(fn func(session.State)) Option {
	return func(w *Watcher) { w.onReload = fn }
}

// New creates a watcher for path. The file may not exist yet, but its
// directory must.
func New(path string, ctrl *session.Controller, disp *display.Displayer, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot watch %s: parent is not a directory", path)
	}

	w := &Watcher{
		path:   abs,
		ctrl:   ctrl,
		disp:   disp,
		settle: DefaultSettle,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Run loads the file once and then reloads it after every change until ctx
// is done. The parent directory is watched so that editors which save by
// renaming a temp file over the original keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Debug("Watching prompt file", "path", w.path)

	w.reload(ctx)

	settle := time.NewTimer(w.settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.logger.Debug("Prompt file changed", "op", event.Op.String())
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				settle.Reset(w.settle)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)

		case <-settle.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("Failed to read prompt file", "path", w.path, "error", err)
		}
		return
	}

	text := string(data)
	if w.loaded && text == w.last {
		return
	}
	w.last, w.loaded = text, true

	w.ctrl.SetInput(text)
	w.ctrl.Flush()

	s := w.ctrl.Snapshot()
	w.disp.Analysis(s.Analysis)

	if w.optimize && s.Input != "" {
		if err := w.ctrl.Optimize(ctx); err != nil && !errors.Is(err, session.ErrSuperseded) {
			w.disp.Error("Error: " + err.Error())
		} else if out, err := w.ctrl.Output(); err == nil {
			w.disp.Output(out)
		}
		s = w.ctrl.Snapshot()
	}

	if w.onReload != nil {
		w.onReload(s)
	}
}
