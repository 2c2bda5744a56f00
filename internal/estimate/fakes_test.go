package estimate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// mapCache is a minimal Cache used by the package tests.
type mapCache struct {
	mu     sync.Mutex
	state  map[Fingerprint]CacheState
	values map[Fingerprint]RawResponse
}

func newMapCache() *mapCache {
	return &mapCache{
		state:  make(map[Fingerprint]CacheState),
		values: make(map[Fingerprint]RawResponse),
	}
}

func (c *mapCache) Get(fp Fingerprint) (RawResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state[fp] != StateResolved {
		return RawResponse{}, false
	}
	return c.values[fp], true
}

func (c *mapCache) Set(fp Fingerprint, resp RawResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state[fp] == StateResolved {
		return false
	}
	c.state[fp] = StateResolved
	c.values[fp] = resp
	return true
}

func (c *mapCache) Reserve(fp Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state[fp]; ok {
		return false
	}
	c.state[fp] = StatePending
	return true
}

func (c *mapCache) Fail(fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state[fp] != StateResolved {
		c.state[fp] = StateFailed
	}
}

func (c *mapCache) State(fp Fingerprint) CacheState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state[fp]
}

var errProvider = errors.New("provider unavailable")

// fakeClient answers every request with an annual yield derived from the
// fingerprint, or fails for the fingerprints listed in fail.
type fakeClient struct {
	mu       sync.Mutex
	requests []Request
	fail     map[Fingerprint]bool
	delay    time.Duration

	// started is signalled on every Estimate call when non-nil.
	started chan struct{}
	// release blocks Estimate until closed when non-nil.
	release chan struct{}

	opens, closes atomic.Int32
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32

	openErr error
}

func (c *fakeClient) Open(context.Context) error {
	c.opens.Add(1)
	return c.openErr
}

func (c *fakeClient) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeClient) Estimate(ctx context.Context, req Request) (Result, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	fail := c.fail[req.Fingerprint()]
	c.mu.Unlock()

	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if fail {
		return Result{}, errProvider
	}
	return Result{Token: req.Token, Response: yieldFor(req.Fingerprint())}, nil
}

func (c *fakeClient) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func yieldFor(fp Fingerprint) RawResponse {
	annual := 1000 - fp.Tilt + fp.Azimuth
	sd := 25.0
	em := annual / 12
	loss := -20.5

	var r RawResponse
	r.Outputs.Totals.Fixed = &FixedTotals{EY: &annual, SDY: &sd, EM: &em, LTotal: &loss}
	for m := 1; m <= 12; m++ {
		v := float64(m)
		r.Outputs.Monthly.Fixed = append(r.Outputs.Monthly.Fixed, MonthlyYield{Month: m, EM: &v})
	}
	return r
}

// recorder collects observer events.
type recorder struct {
	mu      sync.Mutex
	batches []BatchEvent
	runs    []RunSummary
}

func (r *recorder) BatchCompleted(ev BatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ev)
}

func (r *recorder) RunCompleted(sum RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, sum)
}

func (r *recorder) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.batches))
	for i, ev := range r.batches {
		sizes[i] = ev.Size
	}
	return sizes
}

func roofsOf(fps ...Fingerprint) []Roof {
	roofs := make([]Roof, len(fps))
	for i, fp := range fps {
		roofs[i] = Roof{Index: i, Tilt: fp.Tilt, Azimuth: fp.Azimuth}
	}
	return roofs
}

// distinctRoofs returns n roofs that all have different fingerprints.
func distinctRoofs(n int) []Roof {
	fps := make([]Fingerprint, n)
	for i := range fps {
		fps[i] = Fingerprint{Tilt: float64(i % 90), Azimuth: float64(i/90) - 90}
	}
	return roofsOf(fps...)
}
