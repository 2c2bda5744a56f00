package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
)

var (
	// ErrNotFound is returned when no run matches the query.
	ErrNotFound = errors.New("no estimation run found")
)

// MemoryStore is a concurrency-safe in-memory history of estimation runs.
type MemoryStore struct {
	mu sync.RWMutex

	// time-ordered, oldest first
	runs []estimate.RunRecord

	// retention configuration
	maxHistory int           // max number of runs kept
	maxAge     time.Duration // optional max age of runs
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// SaveRun appends a completed run and enforces retention.
func (s *MemoryStore) SaveRun(rec estimate.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, rec)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.runs) > s.maxHistory {
		over := len(s.runs) - s.maxHistory
		s.runs = s.runs[over:]
	}

	// Enforce retention by age. The newest run is always kept.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.runs)-1; i++ {
			if !s.runs[i].Summary.StartedAt.Before(cutoff) {
				break
			}
		}
		s.runs = s.runs[i:]
	}
}

// GetLatest returns the most recent run.
func (s *MemoryStore) GetLatest() (estimate.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return estimate.RunRecord{}, ErrNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

// GetRun returns the run with the given id.
func (s *MemoryStore) GetRun(id string) (estimate.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Summary.ID.String() == id {
			return s.runs[i], nil
		}
	}
	return estimate.RunRecord{}, ErrNotFound
}

// ListRuns returns summaries of runs started between from and to (inclusive).
// A zero bound is open.
func (s *MemoryStore) ListRuns(from, to time.Time) ([]estimate.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []estimate.RunSummary
	for _, rec := range s.runs {
		ts := rec.Summary.StartedAt
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		result = append(result, rec.Summary)
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
