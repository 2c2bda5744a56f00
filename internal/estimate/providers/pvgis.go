package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
)

// Fixed PVcalc parameters.
const (
	DefaultPVGISURL    = "https://re.jrc.ec.europa.eu/api/v5_2/PVcalc"
	DefaultRadDatabase = "PVGIS-SARAH2"
	mountingPlace      = "building"
	outputFormat       = "json"
)

var (
	// ErrSessionOpen is returned by Open when the session is already open.
	ErrSessionOpen = errors.New("pvgis session already open")
	// ErrSessionClosed is returned when the session is used or closed while not open.
	ErrSessionClosed = errors.New("pvgis session not open")
)

var validate = validator.New()

// PVGISConfig holds the connection settings of the PVGIS client.
type PVGISConfig struct {
	BaseURL     string
	RadDatabase string
	Timeout     time.Duration

	// BreakerFailures is the number of consecutive failures that open the
	// circuit. Zero keeps the circuit closed.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open before it half-opens.
	BreakerTimeout time.Duration
	// HalfOpenRequests bounds the requests let through while half-open. It
	// must cover a whole batch, or the excess tasks fail without being sent.
	HalfOpenRequests uint32
}

// PVGISClient implements estimate.Client for the PVGIS PVcalc endpoint.
type PVGISClient struct {
	name        string
	baseURL     string
	radDatabase string
	timeout     time.Duration
	circuit     *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	session *http.Client
}

func NewPVGISClient(cfg PVGISConfig) *PVGISClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPVGISURL
	}
	if cfg.RadDatabase == "" {
		cfg.RadDatabase = DefaultRadDatabase
	}

	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = estimate.DefaultBatchSize
	}

	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pvgis",
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    1 * time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return failures > 0 && c.ConsecutiveFailures >= failures
		},
	})

	return &PVGISClient{
		name:        "pvgis",
		baseURL:     cfg.BaseURL,
		radDatabase: cfg.RadDatabase,
		timeout:     cfg.Timeout,
		circuit:     cb,
	}
}

func (p *PVGISClient) Name() string {
	return p.name
}

// Open creates the shared HTTP session reused by every request of a run.
func (p *PVGISClient) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return ErrSessionOpen
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 64
	p.session = &http.Client{
		Timeout:   p.timeout,
		Transport: transport,
	}
	return nil
}

// Close releases the pooled connections of the session.
func (p *PVGISClient) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return ErrSessionClosed
	}
	p.session.CloseIdleConnections()
	p.session = nil
	return nil
}

// Estimate sends one PVcalc request. Every failure is an *estimate.RequestError
// carrying the request token.
func (p *PVGISClient) Estimate(ctx context.Context, req estimate.Request) (estimate.Result, error) {
	fail := func(err error) (estimate.Result, error) {
		return estimate.Result{}, &estimate.RequestError{
			Token:       req.Token,
			Fingerprint: req.Fingerprint(),
			Err:         err,
		}
	}

	p.mu.RLock()
	session := p.session
	p.mu.RUnlock()
	if session == nil {
		return fail(ErrSessionClosed)
	}

	if err := validate.Struct(req); err != nil {
		return fail(fmt.Errorf("%w: %v", errInvalidParams, err))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		u := fmt.Sprintf("%s?%s", p.baseURL, p.query(req).Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequest(ctx, session, p.circuit, buildRequest)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	var payload estimate.RawResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fail(fmt.Errorf("%w: %v", errBadPayload, err))
	}
	if err := checkPayload(payload); err != nil {
		return fail(err)
	}

	return estimate.Result{Token: req.Token, Response: payload}, nil
}

func (p *PVGISClient) query(req estimate.Request) url.Values {
	optimal := "0"
	if req.OptimalAngles() {
		optimal = "1"
	}

	values := url.Values{}
	values.Set("lat", formatFloat(req.Latitude))
	values.Set("lon", formatFloat(req.Longitude))
	values.Set("peakpower", formatFloat(req.Efficiency))
	values.Set("loss", formatFloat(req.Loss))
	values.Set("mountingplace", mountingPlace)
	values.Set("angle", formatFloat(req.Tilt))
	values.Set("aspect", formatFloat(req.Azimuth))
	values.Set("outputformat", outputFormat)
	values.Set("raddatabase", p.radDatabase)
	values.Set("optimalangles", optimal)
	return values
}

// checkPayload rejects responses without the sections the merge reads.
// Null numbers inside the sections are allowed.
func checkPayload(payload estimate.RawResponse) error {
	if payload.Outputs.Totals.Fixed == nil {
		return fmt.Errorf("%w: missing outputs.totals.fixed", errBadPayload)
	}
	if n := len(payload.Outputs.Monthly.Fixed); n != 12 {
		return fmt.Errorf("%w: expected 12 monthly entries, got %d", errBadPayload, n)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
