package estimate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Defaults used when BatchOptions leave a field unset.
const (
	DefaultBatchSize  = 30
	DefaultBatchPause = time.Second
)

// BatchOptions configures the request pipeline of a run.
type BatchOptions struct {
	Size   int           // max distinct requests in flight per batch
	Pause  time.Duration // delay after each full batch
	Policy FailurePolicy

	// Site and system parameters shared by every request of the run.
	Latitude   float64
	Longitude  float64
	Efficiency float64
	Loss       float64
}

// task is one in-flight provider request. Waiters are the positions in the
// roof slice of every roof satisfied by this request, the originating roof
// included.
type task struct {
	req     Request
	waiters []int
	err     error
}

type processStats struct {
	requests  int
	cacheHits int
	batches   int
}

// BatchScheduler deduplicates roofs against the fingerprint cache, sends the
// outstanding requests in paced fixed-size batches and merges the results
// back onto the roofs.
type BatchScheduler struct {
	client    Client
	cache     Cache
	opts      BatchOptions
	observers []Observer

	// pause blocks between batches; replaced in tests.
	pause func(ctx context.Context, d time.Duration) error
}

// NewBatchScheduler creates a scheduler over a single-run cache.
func NewBatchScheduler(client Client, cache Cache, opts BatchOptions, observers ...Observer) *BatchScheduler {
	if opts.Size <= 0 {
		opts.Size = DefaultBatchSize
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if opts.Policy == "" {
		opts.Policy = PolicyPartial
	}
	return &BatchScheduler{
		client:    client,
		cache:     cache,
		opts:      opts,
		observers: observers,
		pause:     sleepContext,
	}
}

// Run processes every roof and merges the results onto them.
// The provider session is opened before the first batch and closed after the
// last one on every path. On a batch abort no roof is modified.
func (s *BatchScheduler) Run(ctx context.Context, roofs []Roof) (RunSummary, map[Fingerprint]Production, error) {
	sum := RunSummary{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Roofs:     len(roofs),
	}
	start := time.Now()

	if s.client == nil {
		return s.finish(sum, start, ErrNoClient), nil, ErrNoClient
	}
	if err := s.client.Open(ctx); err != nil {
		err = fmt.Errorf("open provider session: %w", err)
		return s.finish(sum, start, err), nil, err
	}

	stats, err := s.process(ctx, sum.ID, roofs)
	if closeErr := s.client.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close provider session: %w", closeErr)
	}

	sum.Requests = stats.requests
	sum.CacheHits = stats.cacheHits
	sum.Batches = stats.batches
	if err != nil {
		return s.finish(sum, start, err), nil, err
	}

	estimates := Merge(roofs, s.cache)
	sum.Fingerprints = len(estimates)
	sum.Orientations = make(map[Orientation]int)
	for _, prod := range estimates {
		if !prod.Valid() {
			sum.FailedFingerprints++
		}
	}
	for _, r := range roofs {
		if !r.Production.Valid() {
			sum.NullRoofs++
		}
		sum.Orientations[OrientationOf(r.Tilt, r.Azimuth)]++
	}

	return s.finish(sum, start, nil), estimates, nil
}

// finish stamps the summary and notifies the observers.
func (s *BatchScheduler) finish(sum RunSummary, start time.Time, err error) RunSummary {
	sum.Duration = time.Since(start)
	if err != nil {
		sum.Err = err.Error()
	}
	for _, o := range s.observers {
		o.RunCompleted(sum)
	}
	return sum
}

// process walks the roofs in dataset order and drains all batches.
// The pause owed by a full batch is only taken once another request is
// about to be queued, so nothing sleeps after the final batch.
func (s *BatchScheduler) process(ctx context.Context, runID uuid.UUID, roofs []Roof) (processStats, error) {
	var st processStats

	batch := make([]*task, 0, s.opts.Size)
	inflight := make(map[Fingerprint]*task)
	owePause := false

	for i, roof := range roofs {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		fp := roof.Fingerprint()
		if t, ok := inflight[fp]; ok {
			t.waiters = append(t.waiters, i)
			continue
		}
		if !s.cache.Reserve(fp) {
			st.cacheHits++
			continue
		}

		if owePause {
			if err := s.pause(ctx, s.opts.Pause); err != nil {
				return st, err
			}
			owePause = false
		}

		t := &task{
			req:     s.request(i, roof),
			waiters: []int{i},
		}
		inflight[fp] = t
		batch = append(batch, t)
		st.requests++

		if len(batch) < s.opts.Size {
			continue
		}

		if err := s.dispatch(ctx, runID, st.batches, batch); err != nil {
			return st, err
		}
		st.batches++
		batch = make([]*task, 0, s.opts.Size)
		clear(inflight)
		owePause = true
	}

	if len(batch) > 0 {
		if err := s.dispatch(ctx, runID, st.batches, batch); err != nil {
			return st, err
		}
		st.batches++
	}
	return st, nil
}

// request builds the query for the roof at position pos. The position is the
// routing token; Roof.Index is caller identity and need not be unique.
func (s *BatchScheduler) request(pos int, r Roof) Request {
	return Request{
		Token:      pos,
		Latitude:   s.opts.Latitude,
		Longitude:  s.opts.Longitude,
		Tilt:       r.Tilt,
		Azimuth:    r.Azimuth,
		Efficiency: s.opts.Efficiency,
		Loss:       s.opts.Loss,
	}
}

// dispatch sends every task of the batch concurrently and waits for all of
// them to settle. Under PolicyAbort the first failure cancels the siblings.
func (s *BatchScheduler) dispatch(ctx context.Context, runID uuid.UUID, index int, batch []*task) error {
	start := time.Now()

	byToken := make(map[int]*task, len(batch))
	for _, t := range batch {
		byToken[t.req.Token] = t
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range batch {
		g.Go(func() error {
			fp := t.req.Fingerprint()

			res, err := s.client.Estimate(gctx, t.req)
			if err == nil && byToken[res.Token] != t {
				err = fmt.Errorf("response routed to token %d", res.Token)
			}
			if err != nil {
				var reqErr *RequestError
				if !errors.As(err, &reqErr) {
					err = &RequestError{Token: t.req.Token, Fingerprint: fp, Err: err}
				}
				t.err = err
				s.cache.Fail(fp)
				if s.opts.Policy == PolicyAbort {
					return err
				}
				return nil
			}

			s.cache.Set(fp, res.Response)
			return nil
		})
	}
	groupErr := g.Wait()

	ev := BatchEvent{
		RunID:    runID,
		Index:    index,
		Size:     len(batch),
		Duration: time.Since(start),
		Err:      groupErr,
	}
	for _, t := range batch {
		ev.Waiters += len(t.waiters)
		if t.err != nil {
			ev.Failed++
		} else {
			ev.Succeeded++
		}
	}
	for _, o := range s.observers {
		o.BatchCompleted(ev)
	}

	if groupErr != nil {
		return &BatchError{Index: index, Err: groupErr}
	}
	return ctx.Err()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
