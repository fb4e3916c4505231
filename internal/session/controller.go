// Package session implements the editor session: the input/output state
// machine, debounced analysis, auto-iteration and import/export.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manash/promptbridge/internal/analyzer"
	"github.com/manash/promptbridge/internal/history"
	"github.com/manash/promptbridge/internal/metrics"
	"github.com/manash/promptbridge/internal/storage"
	"github.com/manash/promptbridge/pkg/models"
)

const (
	DefaultDebounce         = 500 * time.Millisecond
	DefaultAutoIterateDelay = 2 * time.Second
	MaxIterations           = 3
	maxScoreBonus           = 20
)

var (
	ErrEmptyInput  = errors.New("input is empty")
	ErrBusy        = errors.New("an optimization is already in progress")
	ErrSuperseded  = errors.New("response discarded: session changed while optimizing")
	ErrNoOutput    = errors.New("no output to copy")
	errNoOptimizer = errors.New("no optimizer configured")
)

// Optimizer performs one optimization call.
type Optimizer interface {
	Optimize(ctx context.Context, req models.OptimizeRequest) (string, error)
}

// State is a point-in-time copy of the session.
type State struct {
	Input        string
	Output       string
	Status       models.Status
	ErrorMessage string
	Analysis     *models.Analysis
	Config       models.Configuration
	AutoIterate  bool
	Iteration    int
}

type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	state   State
	opt     Optimizer
	history *history.Store
	kv      storage.KV

	sched      Scheduler
	debounce   time.Duration
	autoDelay  time.Duration
	scoreBonus func() float64
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	analysisTimer   Timer
	analysisToken   uint64
	analysisPending bool

	autoTimer   Timer
	autoToken   uint64
	autoPending bool
	autoCtx     context.Context

	generation uint64
	inflight   bool
	saving     int

	listeners []func(State)
}

type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

func WithAutoIterateDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.autoDelay = d
		}
	}
}

// WithScoreBonus replaces the random bonus added to recorded scores.
func WithScoreBonus(f func() float64) Option {
	return func(c *Controller) { c.scoreBonus = f }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates an idle session. kv may be nil for a session that
// is never persisted.
func NewController(opt Optimizer, hist *history.Store, kv storage.KV, opts ...Option) *Controller {
	c := &Controller{
		state: State{
			Status:    models.StatusIdle,
			Config:    models.DefaultConfiguration(),
			Iteration: 1,
		},
		opt:        opt,
		history:    hist,
		kv:         kv,
		sched:      RealScheduler,
		debounce:   DefaultDebounce,
		autoDelay:  DefaultAutoIterateDelay,
		scoreBonus: func() float64 { return rand.Float64() * maxScoreBonus },
		now:        time.Now,
		logger:     slog.Default(),
	}
	if c.history == nil {
		c.history = history.New(kv)
	}
	for _, o := range opts {
		o(c)
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that caused the change, outside the lock.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) History() []models.PromptRecord {
	return c.history.List()
}

func (c *Controller) Stats() history.Stats {
	return c.history.Stats()
}

// HistoryCap is the maximum number of records kept.
func (c *Controller) HistoryCap() int {
	return c.history.Cap()
}

// LoadSettings restores configuration and history from storage. Missing or
// invalid values fall back to defaults.
func (c *Controller) LoadSettings(ctx context.Context) {
	cfg := models.DefaultConfiguration()
	if c.kv != nil {
		if v, ok := c.kv.Get(ctx, storage.KeyMode); ok {
			if m, err := models.ParseMode(v); err == nil {
				cfg.Mode = m
			} else {
				c.logger.Warn("Ignoring stored mode", "value", v)
			}
		}
		if v, ok := c.kv.Get(ctx, storage.KeyTarget); ok {
			if t, err := models.ParseTarget(v); err == nil {
				cfg.Target = t
			} else {
				c.logger.Warn("Ignoring stored target", "value", v)
			}
		}
	}
	c.history.Load(ctx)
	c.metrics.SetHistoryRecords(c.history.Len())

	c.mu.Lock()
	c.state.Config = cfg
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// SetInput replaces the input text. Stale output stays visible; analysis is
// rescheduled. Blank input returns the session to Idle.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.setInputLocked(text)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Clear empties the input and returns the session to Idle.
func (c *Controller) Clear() {
	c.SetInput("")
}

// LoadTemplate replaces the input with a built-in template.
func (c *Controller) LoadTemplate(key string) (Template, error) {
	t, err := FindTemplate(key)
	if err != nil {
		return Template{}, err
	}
	c.SetInput(t.Text)
	return t, nil
}

// Flush runs a pending debounced analysis immediately.
func (c *Controller) Flush() {
	c.mu.Lock()
	if !c.analysisPending {
		c.mu.Unlock()
		return
	}
	c.analyzeLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) SetMode(ctx context.Context, mode models.OptimizationMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w %q", models.ErrInvalidMode, mode)
	}
	c.mu.Lock()
	c.state.Config.Mode = mode
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.persistValue(ctx, storage.KeyMode, string(mode))
	c.notify(snap)
	return nil
}

func (c *Controller) SetTarget(ctx context.Context, target models.TargetAI) error {
	if !target.IsValid() {
		return fmt.Errorf("%w %q", models.ErrInvalidTarget, target)
	}
	c.mu.Lock()
	c.state.Config.Target = target
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.persistValue(ctx, storage.KeyTarget, string(target))
	c.notify(snap)
	return nil
}

// SetAutoIterate toggles auto-iteration. Turning it off cancels a pending
// iteration and resets the counter.
func (c *Controller) SetAutoIterate(on bool) {
	c.mu.Lock()
	c.state.AutoIterate = on
	if !on {
		c.cancelAutoLocked()
		c.state.Iteration = 1
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Restore loads a history record into the session and marks it Success.
func (c *Controller) Restore(id string) (models.PromptRecord, error) {
	rec, err := c.history.Get(id)
	if err != nil {
		return models.PromptRecord{}, err
	}

	c.mu.Lock()
	c.supersedeLocked()
	c.setInputLocked(rec.Input)
	c.state.Output = rec.Output
	c.state.Status = models.StatusSuccess
	c.state.ErrorMessage = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return rec, nil
}

// Optimize sends the current input to the optimizer. It returns ErrBusy while
// another call is outstanding and ErrEmptyInput for blank input; neither
// changes state. Provider failures move the session to Error and are
// returned.
func (c *Controller) Optimize(ctx context.Context) error {
	c.mu.Lock()
	req, gen, err := c.beginLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	return c.complete(ctx, req, gen)
}

// Wait blocks until no optimization is in flight, no auto-iteration is
// pending and the last record has been persisted, or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inflight || c.autoPending || c.saving > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return nil
}

// ExportDocument captures the session and history.
func (c *Controller) ExportDocument() *Document {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	records := c.history.List()
	if records == nil {
		records = []models.PromptRecord{}
	}
	return &Document{
		Input:     snap.Input,
		Output:    snap.Output,
		Analysis:  snap.Analysis,
		Mode:      snap.Config.Mode,
		TargetAI:  snap.Config.Target,
		Timestamp: c.now().UTC(),
		History:   records,
	}
}

func (c *Controller) Export(w io.Writer) error {
	if err := encodeDocument(w, c.ExportDocument()); err != nil {
		return &StorageError{Op: "export", Err: err}
	}
	return nil
}

// Import applies the fields present in a document. An invalid document
// returns a *StorageError and leaves the session untouched.
func (c *Controller) Import(ctx context.Context, r io.Reader) error {
	doc, err := decodeImport(r)
	if err != nil {
		return &StorageError{Op: "import", Err: err}
	}

	c.mu.Lock()
	if doc.Input != "" || doc.Output != "" {
		c.supersedeLocked()
	}
	if doc.Input != "" {
		c.setInputLocked(doc.Input)
	}
	if doc.Output != "" {
		c.state.Output = doc.Output
		c.state.Status = models.StatusSuccess
		c.state.ErrorMessage = ""
	}
	if doc.Mode != "" {
		c.state.Config.Mode = doc.Mode
	}
	if doc.TargetAI != "" {
		c.state.Config.Target = doc.TargetAI
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if doc.hasHistory {
		c.history.ReplaceAll(doc.records)
		c.persistHistory(ctx)
	}
	if doc.Mode != "" {
		c.persistValue(ctx, storage.KeyMode, string(doc.Mode))
	}
	if doc.TargetAI != "" {
		c.persistValue(ctx, storage.KeyTarget, string(doc.TargetAI))
	}
	c.notify(snap)
	return nil
}

// ClearHistory drops every history record and persists the empty list.
func (c *Controller) ClearHistory(ctx context.Context) {
	c.history.Clear()
	c.persistHistory(ctx)
}

// Output returns the current output or ErrNoOutput when there is none.
func (c *Controller) Output() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Output == "" {
		return "", ErrNoOutput
	}
	return c.state.Output, nil
}

func (c *Controller) beginLocked(ctx context.Context) (models.OptimizeRequest, uint64, error) {
	if c.inflight || c.state.Status == models.StatusLoading {
		return models.OptimizeRequest{}, 0, ErrBusy
	}
	if strings.TrimSpace(c.state.Input) == "" {
		return models.OptimizeRequest{}, 0, ErrEmptyInput
	}

	if c.analysisPending {
		c.analyzeLocked()
	}
	c.cancelAutoLocked()

	c.generation++
	c.inflight = true
	c.autoCtx = ctx
	c.state.Status = models.StatusLoading
	c.state.ErrorMessage = ""

	return models.OptimizeRequest{
		Text:   c.state.Input,
		Mode:   c.state.Config.Mode,
		Target: c.state.Config.Target,
	}, c.generation, nil
}

func (c *Controller) complete(ctx context.Context, req models.OptimizeRequest, gen uint64) error {
	var (
		out string
		err error
	)
	if c.opt == nil {
		err = errNoOptimizer
	} else {
		out, err = c.opt.Optimize(ctx, req)
	}

	c.mu.Lock()
	c.inflight = false
	c.cond.Broadcast()

	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.IncStaleResponse()
		c.logger.Debug("Discarding stale optimization response", "generation", gen)
		return ErrSuperseded
	}

	if err != nil {
		c.state.Status = models.StatusError
		c.state.ErrorMessage = err.Error()
		c.state.Iteration = 1
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}

	c.state.Status = models.StatusSuccess
	c.state.Output = out
	rec := models.PromptRecord{
		ID:        newRecordID(),
		Input:     req.Text,
		Output:    out,
		Timestamp: models.Timestamp(c.now()),
		Score:     c.scoreLocked(),
	}
	c.history.Append(rec)

	if c.state.AutoIterate && c.state.Iteration < MaxIterations {
		c.scheduleAutoLocked()
	} else {
		c.state.Iteration = 1
	}
	c.saving++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.persistHistory(ctx)

	c.mu.Lock()
	c.saving--
	c.cond.Broadcast()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

func (c *Controller) scheduleAutoLocked() {
	c.cancelAutoLocked()
	c.autoToken++
	token := c.autoToken
	c.autoPending = true
	c.autoTimer = c.sched.AfterFunc(c.autoDelay, func() { c.runAutoIteration(token) })
}

func (c *Controller) cancelAutoLocked() {
	if c.autoTimer != nil {
		c.autoTimer.Stop()
		c.autoTimer = nil
	}
	if c.autoPending {
		c.autoPending = false
		c.cond.Broadcast()
	}
	c.autoToken++
}

func (c *Controller) runAutoIteration(token uint64) {
	c.mu.Lock()
	if token != c.autoToken || !c.autoPending {
		c.mu.Unlock()
		return
	}
	c.autoPending = false
	c.autoTimer = nil
	if !c.state.AutoIterate || c.state.Output == "" {
		c.state.Iteration = 1
		c.cond.Broadcast()
		c.mu.Unlock()
		return
	}

	ctx := c.autoCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.state.Iteration++
	c.setInputLocked(c.state.Output)
	req, gen, err := c.beginLocked(ctx)
	if err != nil {
		c.state.Iteration = 1
		c.cond.Broadcast()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	if err := c.complete(ctx, req, gen); err != nil && !errors.Is(err, ErrSuperseded) {
		c.logger.Warn("Auto-iteration failed", "error", err)
	}
}

// setInputLocked updates the input and the analysis schedule.
func (c *Controller) setInputLocked(text string) {
	c.state.Input = text
	switch {
	case strings.TrimSpace(text) == "":
		c.cancelAnalysisLocked()
		c.state.Analysis = nil
		c.supersedeLocked()
		c.state.Output = ""
		c.state.ErrorMessage = ""
		c.state.Status = models.StatusIdle
		c.state.Iteration = 1
	case analyzer.ShouldAnalyze(text):
		c.scheduleAnalysisLocked()
	default:
		c.cancelAnalysisLocked()
		c.state.Analysis = nil
	}
}

// supersedeLocked invalidates any in-flight response and pending
// auto-iteration. A Loading status settles on what is currently shown.
func (c *Controller) supersedeLocked() {
	c.generation++
	c.cancelAutoLocked()
	if c.state.Status == models.StatusLoading {
		if c.state.Output != "" {
			c.state.Status = models.StatusSuccess
		} else {
			c.state.Status = models.StatusIdle
		}
	}
}

func (c *Controller) scheduleAnalysisLocked() {
	c.cancelAnalysisLocked()
	token := c.analysisToken
	c.analysisPending = true
	c.analysisTimer = c.sched.AfterFunc(c.debounce, func() { c.runAnalysis(token) })
}

func (c *Controller) cancelAnalysisLocked() {
	if c.analysisTimer != nil {
		c.analysisTimer.Stop()
		c.analysisTimer = nil
	}
	c.analysisPending = false
	c.analysisToken++
}

func (c *Controller) runAnalysis(token uint64) {
	c.mu.Lock()
	if token != c.analysisToken || !c.analysisPending {
		c.mu.Unlock()
		return
	}
	c.analyzeLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) analyzeLocked() {
	c.analysisPending = false
	if c.analysisTimer != nil {
		c.analysisTimer.Stop()
		c.analysisTimer = nil
	}
	if !analyzer.ShouldAnalyze(c.state.Input) {
		c.state.Analysis = nil
		return
	}
	a := analyzer.Analyze(c.state.Input)
	c.state.Analysis = &a
	c.metrics.IncAnalysis()
}

// scoreLocked derives the record score from the last analysis plus a bonus,
// capped at 100. Without an analysis the record has no score.
func (c *Controller) scoreLocked() *int {
	if c.state.Analysis == nil {
		return nil
	}
	bonus := 0.0
	if c.scoreBonus != nil {
		bonus = c.scoreBonus()
	}
	score := int(math.Min(100, math.Round(c.state.Analysis.Completeness+bonus)))
	return &score
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	if s.Analysis != nil {
		a := *s.Analysis
		a.Suggestions = append([]string(nil), a.Suggestions...)
		s.Analysis = &a
	}
	return s
}

func (c *Controller) notify(s State) {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (c *Controller) persistHistory(ctx context.Context) {
	c.metrics.SetHistoryRecords(c.history.Len())
	if err := c.history.Persist(ctx); err != nil {
		c.logger.Warn("Failed to persist history", "error", &StorageError{Op: "persist history", Err: err})
	}
}

func (c *Controller) persistValue(ctx context.Context, key, value string) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Set(ctx, key, value); err != nil {
		c.logger.Warn("Failed to persist setting", "key", key, "error", &StorageError{Op: "persist " + key, Err: err})
	}
}

func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
