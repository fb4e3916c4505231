// Package history keeps the bounded, most-recent-first list of completed
// optimizations and persists it through a storage.KV.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/manash/promptbridge/internal/storage"
	"github.com/manash/promptbridge/pkg/models"
)

// DefaultCap is the number of records retained.
const DefaultCap = 50

var ErrNotFound = errors.New("history record not found")

// Stats summarises the stored records.
type Stats struct {
	Count        int
	AverageScore float64
}

type Store struct {
	mu      sync.RWMutex
	saveMu  sync.Mutex
	records []models.PromptRecord
	cap     int
	kv      storage.KV
	key     string
	logger  *slog.Logger
}

type Option func(*Store)

// WithCap overrides the retention cap. Values below 1 are ignored.
func WithCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cap = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty store persisting to kv. kv may be nil, in which case
// Persist and Load are no-ops.
func New(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		cap:    DefaultCap,
		kv:     kv,
		key:    storage.KeyHistory,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Cap() int {
	return s.cap
}

// Append inserts rec at the head and evicts the oldest records beyond the cap.
func (s *Store) Append(rec models.PromptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]models.PromptRecord, 0, min(len(s.records)+1, s.cap))
	records = append(records, rec)
	records = append(records, s.records[:min(len(s.records), s.cap-1)]...)
	s.records = records
}

// List returns a copy of the records, most recent first.
func (s *Store) List() []models.PromptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.records)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (models.PromptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return cloneRecord(r), nil
		}
	}
	return models.PromptRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Resolve finds the id a user reference points at: a 1-based position in
// records, a full id, or a unique id suffix. Numbers outside the positions
// are tried as id suffixes.
func Resolve(records []models.PromptRecord, ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	isPosition := err == nil
	if isPosition && n >= 1 && n <= len(records) {
		return records[n-1].ID, nil
	}

	var match string
	for _, rec := range records {
		if rec.ID == ref {
			return rec.ID, nil
		}
		if strings.HasSuffix(rec.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("ambiguous history id: %s", ref)
			}
			match = rec.ID
		}
	}
	if match == "" {
		if isPosition {
			return "", fmt.Errorf("%w: no entry #%d (have %d)", ErrNotFound, n, len(records))
		}
		return "", fmt.Errorf("%w: no entry matches %s", ErrNotFound, ref)
	}
	return match, nil
}

// ReplaceAll overwrites the history with records, keeping their order and
// truncating to the cap.
func (s *Store) ReplaceAll(records []models.PromptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = cloneRecords(records[:min(len(records), s.cap)])
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Stats reports the record count and the mean score, counting records
// without a score as zero.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Count: len(s.records)}
	if st.Count == 0 {
		return st
	}
	total := 0
	for _, r := range s.records {
		if r.Score != nil {
			total += *r.Score
		}
	}
	st.AverageScore = float64(total) / float64(st.Count)
	return st
}

// Persist writes the records to storage as a JSON array. Concurrent calls
// are serialized so the last write holds the latest snapshot.
func (s *Store) Persist(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	records := s.List()
	if records == nil {
		records = []models.PromptRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}
	return nil
}

// Load replaces the in-memory records with the stored ones. A missing or
// corrupt stored value leaves the store empty.
func (s *Store) Load(ctx context.Context) {
	var records []models.PromptRecord
	if s.kv != nil {
		if raw, ok := s.kv.Get(ctx, s.key); ok {
			if err := json.Unmarshal([]byte(raw), &records); err != nil {
				s.logger.Warn("Discarding corrupt history", "error", err)
				records = nil
			}
		}
	}

	valid := records[:0]
	for _, r := range records {
		if err := r.Validate(); err != nil {
			s.logger.Debug("Skipping invalid history record", "id", r.ID, "error", err)
			continue
		}
		valid = append(valid, r)
	}
	s.ReplaceAll(valid)
}

func cloneRecords(records []models.PromptRecord) []models.PromptRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]models.PromptRecord, len(records))
	for i, r := range records {
		out[i] = cloneRecord(r)
	}
	return out
}

func cloneRecord(r models.PromptRecord) models.PromptRecord {
	if r.Score != nil {
		v := *r.Score
		r.Score = &v
	}
	return r
}
