package watch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/internal/storage"
	"github.com/manash/promptbridge/pkg/models"
)

type echoOptimizer struct{}

func (echoOptimizer) Optimize(_ context.Context, req models.OptimizeRequest) (string, error) {
	return "optimized: " + req.Text, nil
}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

type idleScheduler struct{}

func (idleScheduler) AfterFunc(time.Duration, func()) session.Timer { return idleTimer{} }

type harness struct {
	ctrl    *session.Controller
	out     *bytes.Buffer
	reloads chan session.State
	cancel  context.CancelFunc
	done    chan error
}

func start(t *testing.T, path string, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		ctrl: session.NewController(echoOptimizer{}, nil, storage.NewMemory(),
			session.WithScheduler(idleScheduler{}),
			session.WithScoreBonus(func() float64 { return 0 })),
		out:     &bytes.Buffer{},
		reloads: make(chan session.State, 8),
		done:    make(chan error, 1),
	}

	opts = append([]Option{
		WithSettle(20 * time.Millisecond),
		WithOnReload(func(s session.State) { h.reloads <- s }),
	}, opts...)
	w, err := New(path, h.ctrl, display.New(h.out), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) next(t *testing.T) session.State {
	t.Helper()
	select {
	case s := <-h.reloads:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
		return session.State{}
	}
}

func TestWatch_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Write a function that sorts numbers"), 0644))

	h := start(t, path)
	s := h.next(t)

	assert.Equal(t, "Write a function that sorts numbers", s.Input)
	require.NotNil(t, s.Analysis)
	assert.Empty(t, s.Output)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))

	h := start(t, path)
	s := h.next(t)
	assert.Nil(t, s.Analysis, "short input is not analyzed")

	require.NoError(t, os.WriteFile(path, []byte("Explain how binary search works, step by step"), 0644))
	s = h.next(t)

	assert.Equal(t, "Explain how binary search works, step by step", s.Input)
	assert.NotNil(t, s.Analysis)
}

func TestWatch_FileCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")

	h := start(t, path)

	// Give the watcher time to register before the file appears.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("Summarize this article in three bullet points"), 0644))

	s := h.next(t)
	assert.Equal(t, "Summarize this article in three bullet points", s.Input)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("first version of the prompt"), 0644))

	h := start(t, path)
	h.next(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("unrelated"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("second version of the prompt"), 0644))

	s := h.next(t)
	assert.Equal(t, "second version of the prompt", s.Input)
}

func TestWatch_Optimize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Write a haiku about autumn"), 0644))

	h := start(t, path, WithOptimize(true))
	s := h.next(t)

	assert.Equal(t, models.StatusSuccess, s.Status)
	assert.Equal(t, "optimized: Write a haiku about autumn", s.Output)
	assert.Len(t, h.ctrl.History(), 1)

	h.cancel()
	require.NoError(t, <-h.done)
	h.done <- nil
	assert.Contains(t, h.out.String(), "optimized: Write a haiku about autumn")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")

	h := start(t, path)
	h.cancel()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	ctrl := session.NewController(echoOptimizer{}, nil, nil)
	_, err := New(filepath.Join(t.TempDir(), "missing", "prompt.txt"), ctrl, display.New(&bytes.Buffer{}))
	assert.Error(t, err)
}
