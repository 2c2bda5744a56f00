package estimate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// ErrUnknownFingerprint is returned by Lookup for a configuration that the
// latest run did not contain.
var ErrUnknownFingerprint = errors.New("fingerprint not part of the latest run")

// Service orchestrates estimation runs: load roofs, run the batch pipeline,
// write the annotated table and record the run.
type Service struct {
	store     RunStore
	client    Client
	source    Source
	sink      Sink
	newCache  func() Cache
	opts      BatchOptions
	observers []Observer

	running atomic.Bool
}

// NewService creates a new Service. newCache must return an empty cache;
// every run starts cold.
func NewService(store RunStore, client Client, source Source, sink Sink, newCache func() Cache, opts BatchOptions, observers ...Observer) *Service {
	return &Service{
		store:     store,
		client:    client,
		source:    source,
		sink:      sink,
		newCache:  newCache,
		opts:      opts,
		observers: observers,
	}
}

// Estimate executes one full run. Only one run may be active at a time.
func (s *Service) Estimate(ctx context.Context) (RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.estimate(ctx)
}

// Go claims the run slot and executes the run in the background, calling
// done with its outcome. It returns ErrRunInProgress without starting
// anything when a run is already active.
func (s *Service) Go(ctx context.Context, done func(RunSummary, error)) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		sum, err := s.estimate(ctx)
		s.running.Store(false)
		if done != nil {
			done(sum, err)
		}
	}()
	return nil
}

func (s *Service) estimate(ctx context.Context) (RunSummary, error) {
	if s.source == nil {
		return RunSummary{}, fmt.Errorf("no roof source configured")
	}
	table, err := s.source.Load(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load roofs: %w", err)
	}

	log.Printf("DEBUG: Estimate called with %d roofs", len(table.Roofs))

	sched := NewBatchScheduler(s.client, s.newCache(), s.opts, s.observers...)
	sum, estimates, err := sched.Run(ctx, table.Roofs)
	if err != nil {
		// No output dataset on abort; results gathered so far are dropped.
		return sum, err
	}

	if s.sink != nil {
		if err := s.sink.Save(ctx, table); err != nil {
			return sum, fmt.Errorf("save roofs: %w", err)
		}
	}

	s.store.SaveRun(RunRecord{Summary: sum, Estimates: estimates})
	return sum, nil
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Lookup returns the production the latest run derived for fp.
func (s *Service) Lookup(fp Fingerprint) (Production, RunSummary, error) {
	rec, err := s.store.GetLatest()
	if err != nil {
		return Production{}, RunSummary{}, err
	}
	prod, ok := rec.Estimates[fp]
	if !ok {
		return Production{}, rec.Summary, ErrUnknownFingerprint
	}
	return prod, rec.Summary, nil
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest() (RunRecord, error) {
	return s.store.GetLatest()
}

// GetRun delegates to the underlying store.
func (s *Service) GetRun(id string) (RunRecord, error) {
	return s.store.GetRun(id)
}

// ListRuns delegates to the underlying store.
func (s *Service) ListRuns(from, to time.Time) ([]RunSummary, error) {
	return s.store.ListRuns(from, to)
}
