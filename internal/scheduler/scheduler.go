package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
)

// Estimator runs one estimation over the configured roofs.
type Estimator interface {
	Estimate(ctx context.Context) (estimate.RunSummary, error)
}

// Scheduler periodically re-runs the roof production estimation.
type Scheduler struct {
	scheduler *gocron.Scheduler
	estimator Estimator
	interval  time.Duration
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. A run is bounded by timeout when it is > 0.
func New(interval, timeout time.Duration, estimator Estimator) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		estimator: estimator,
		interval:  interval,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run starts immediately. Runs never overlap.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		log.Println("scheduler: no run interval configured; running once")
		go s.run()
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	log.Println("scheduler: running roof estimation job")

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sum, err := s.estimator.Estimate(ctx)
	switch {
	case errors.Is(err, estimate.ErrRunInProgress):
		log.Println("scheduler: previous run still in progress; skipping")
	case err != nil:
		log.Printf("scheduler: estimation failed: %v", err)
	default:
		log.Printf("scheduler: completed run %s", sum.ID)
	}
}

// Stop stops the scheduler and cancels the run in progress, if any.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
