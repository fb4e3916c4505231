// Package batch optimizes every prompt in a file and records the results in
// the version history.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/manash/promptbridge/internal/analyzer"
	"github.com/manash/promptbridge/internal/history"
	"github.com/manash/promptbridge/internal/security"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/pkg/models"
)

type Result struct {
	Index    int
	Prompt   string
	Output   string
	Path     string
	Score    *int
	Error    error
	Duration time.Duration
}

type Options struct {
	// OutputDir, when set, receives one markdown file per optimized prompt.
	OutputDir   string
	Mode        models.OptimizationMode
	Target      models.TargetAI
	Parallel    int
	StopOnError bool
	// DelayMs is the minimum gap between two request starts, across all
	// workers.
	DelayMs     int
}

type Processor struct {
	optimizer session.Optimizer
	history   *history.Store
	out       io.Writer
	err       io.Writer
	outMu     sync.Mutex
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor creates a processor. hist may be nil when results should not
// be recorded.
func NewProcessor(opt session.Optimizer, hist *history.Store, out, errOut io.Writer, opts ...Option) *Processor {
	p := &Processor{
		optimizer: opt,
		history:   hist,
		out:       out,
		err:       errOut,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Processor) printf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

// Process optimizes items and appends the successful ones to the history in
// file order, so the last prompt in the file ends up most recent.
func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	if p.optimizer == nil {
		return nil, errors.New("no optimizer configured")
	}
	if opts.OutputDir != "" {
		if err := security.ValidateOutputDir(opts.OutputDir); err != nil {
			return nil, fmt.Errorf("invalid output directory: %w", err)
		}
		if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var limiter *rate.Limiter
	if opts.DelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(opts.DelayMs)*time.Millisecond), 1)
	}

	var results []Result
	var err error
	if opts.Parallel <= 1 {
		results, err = p.processSequential(ctx, items, opts, limiter)
	} else {
		results, err = p.processParallel(ctx, items, opts, limiter)
	}

	p.record(ctx, results)
	return results, err
}

func (p *Processor) processSequential(ctx context.Context, items []Item, opts *Options, limiter *rate.Limiter) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	for i, item := range items {
		if err := wait(ctx, limiter); err != nil {
			return results, err
		}

		result := p.processItem(ctx, item, opts, i+1, total)
		results[i] = result

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at item %d: %w", i+1, result.Error)
		}
	}

	return results, nil
}

func (p *Processor) processParallel(ctx context.Context, items []Item, opts *Options, limiter *rate.Limiter) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	type job struct {
		index int
		item  Item
	}

	jobs := make(chan job, len(items))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := min(opts.Parallel, len(items))

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := wait(ctx, limiter); err != nil {
					return
				}

				result := p.processItem(ctx, j.item, opts, j.index+1, total)

				mu.Lock()
				results[j.index] = result
				if result.Error != nil && opts.StopOnError && firstErr == nil {
					firstErr = result.Error
				}
				stop := opts.StopOnError && firstErr != nil
				mu.Unlock()

				if stop {
					return
				}
			}
		}()
	}

	for i, item := range items {
		jobs <- job{index: i, item: item}
	}
	close(jobs)

	wg.Wait()

	if firstErr != nil {
		return results, fmt.Errorf("batch stopped due to error: %w", firstErr)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	return results, nil
}

// wait blocks until limiter allows another request. A nil limiter only
// checks ctx.
func wait(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:  item.Index,
		Prompt: item.Prompt,
	}

	p.printf("[%d/%d] Optimizing: %q\n", current, total, truncate(item.Prompt, 50))

	req := models.OptimizeRequest{
		Text:   strings.TrimSpace(item.Prompt),
		Mode:   item.Mode,
		Target: item.Target,
	}
	if req.Mode == "" {
		req.Mode = opts.Mode
	}
	if req.Mode == "" {
		req.Mode = models.ModeBalanced
	}
	if req.Target == "" {
		req.Target = opts.Target
	}
	if req.Target == "" {
		req.Target = models.TargetGeneral
	}

	output, err := p.optimizer.Optimize(ctx, req)
	if err != nil {
		result.Error = fmt.Errorf("optimization failed: %w", err)
		result.Duration = time.Since(start)
		p.errorf("       Error: %v\n", result.Error)
		return result
	}
	result.Output = output
	result.Score = score(item.Prompt)

	if opts.OutputDir != "" {
		path := filepath.Join(opts.OutputDir, generateFilename(item.Index, item.Prompt))
		if err := os.WriteFile(path, []byte(output+"\n"), 0644); err != nil {
			result.Error = fmt.Errorf("save failed: %w", err)
			result.Duration = time.Since(start)
			p.errorf("       Error: %v\n", result.Error)
			return result
		}
		result.Path = path
	}

	result.Duration = time.Since(start)
	if result.Path != "" {
		p.printf("       Saved: %s\n", result.Path)
	} else {
		p.printf("       Done (%s)\n", result.Duration.Round(time.Millisecond))
	}

	return result
}

// score is the record score for a prompt: the analyzer's completeness, or
// nil when the prompt is too short to analyze.
func score(prompt string) *int {
	if !analyzer.ShouldAnalyze(prompt) {
		return nil
	}
	s := int(math.Min(100, analyzer.Analyze(prompt).Completeness))
	return &s
}

func (p *Processor) record(ctx context.Context, results []Result) {
	if p.history == nil {
		return
	}

	added := 0
	for _, r := range results {
		if r.Error != nil || r.Output == "" {
			continue
		}
		rec := models.PromptRecord{
			ID:        newRecordID(),
			Input:     r.Prompt,
			Output:    r.Output,
			Timestamp: models.Timestamp(p.now()),
			Score:     r.Score,
		}
		if err := rec.Validate(); err != nil {
			p.logger.Debug("Skipping invalid batch record", "index", r.Index, "error", err)
			continue
		}
		p.history.Append(rec)
		added++
	}
	if added == 0 {
		return
	}

	// Completed optimizations are kept even when the run was interrupted.
	if err := p.history.Persist(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("Failed to persist history", "error", err)
	}
}

func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func generateFilename(index int, prompt string) string {
	return fmt.Sprintf("%03d-%s.md", index, slugify(prompt))
}

var nonSlug = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func slugify(prompt string) string {
	slug := nonSlug.ReplaceAllString(prompt, "")
	slug = strings.ToLower(slug)
	slug = strings.Join(strings.Fields(slug), "-")
	slug = strings.TrimLeft(slug, "-")

	if len(slug) > 50 {
		slug = slug[:50]
	}
	slug = strings.TrimSuffix(slug, "-")

	return security.SanitizeFilename(slug)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, scored, scoreTotal int
	var errs []Result

	for _, r := range results {
		switch {
		case r.Error != nil:
			failed++
			errs = append(errs, r)
		case r.Output != "":
			successful++
			if r.Score != nil {
				scored++
				scoreTotal += *r.Score
			}
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d prompts\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	if scored > 0 {
		fmt.Fprintf(p.out, "  Average score: %.1f\n", float64(scoreTotal)/float64(scored))
	}

	if len(errs) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range errs {
			fmt.Fprintf(p.out, "  [%d] %q: %v\n", e.Index, truncate(e.Prompt, 40), e.Error)
		}
	}
}
