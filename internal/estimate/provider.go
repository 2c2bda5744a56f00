package estimate

import (
	"context"
	"time"
)

// Request is one production estimate query for a single fingerprint.
// Token identifies the roof that triggered the request so results can be
// routed back after concurrent dispatch.
type Request struct {
	Token      int
	Latitude   float64 `validate:"gte=-90,lte=90"`
	Longitude  float64 `validate:"gte=-180,lte=180"`
	Tilt       float64 `validate:"gte=0,lte=90"`
	Azimuth    float64 `validate:"gte=-180,lte=180"`
	Efficiency float64 `validate:"gt=0"`
	Loss       float64 `validate:"gte=0,lte=100"`
}

// Fingerprint returns the configuration the request was built from.
func (r Request) Fingerprint() Fingerprint {
	return Fingerprint{Tilt: r.Tilt, Azimuth: r.Azimuth}
}

// OptimalAngles reports whether the provider should pick the mounting angle.
func (r Request) OptimalAngles() bool {
	return r.Tilt <= FlatRoofMaxTilt
}

// Result is a successful response tagged with the request token.
type Result struct {
	Token    int
	Response RawResponse
}

// Client abstracts the production estimation provider (PVGIS).
// Open and Close bracket a run; Estimate performs exactly one network call.
type Client interface {
	Open(ctx context.Context) error
	Close() error
	Estimate(ctx context.Context, req Request) (Result, error)
}

// CacheState is the lifecycle state of a fingerprint within one run.
type CacheState int

const (
	StateMissing CacheState = iota
	StatePending
	StateResolved
	StateFailed
)

func (s CacheState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "missing"
	}
}

// Cache is the per-run fingerprint cache contract.
type Cache interface {
	Get(fp Fingerprint) (RawResponse, bool)
	Set(fp Fingerprint, resp RawResponse) bool
	Reserve(fp Fingerprint) bool
	Fail(fp Fingerprint)
	State(fp Fingerprint) CacheState
}

// Observer receives progress events from the batch scheduler.
type Observer interface {
	BatchCompleted(ev BatchEvent)
	RunCompleted(sum RunSummary)
}

// Source loads the roof table for a run.
type Source interface {
	Load(ctx context.Context) (*Table, error)
}

// Sink stores the annotated roof table produced by a run.
type Sink interface {
	Save(ctx context.Context, t *Table) error
}

// RunRecord is a completed run together with its per-fingerprint results.
type RunRecord struct {
	Summary   RunSummary
	Estimates map[Fingerprint]Production
}

// RunStore is the contract the in-memory run store must satisfy.
type RunStore interface {
	SaveRun(rec RunRecord)
	GetLatest() (RunRecord, error)
	GetRun(id string) (RunRecord, error)
	ListRuns(from, to time.Time) ([]RunSummary, error)
}
