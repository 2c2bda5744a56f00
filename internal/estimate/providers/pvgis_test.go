package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
	"github.com/i474232898/roof-pv-estimation/internal/store"
)

// pvcalcBody renders a PVcalc response whose annual yield is annual.
func pvcalcBody(annual float64) string {
	var months []string
	for m := 1; m <= 12; m++ {
		months = append(months, fmt.Sprintf(`{"month": %d, "E_d": 0.1, "E_m": %g, "SD_m": 1.2}`, m, annual/12))
	}
	return fmt.Sprintf(`{
		"inputs": {"location": {"latitude": 58.378, "longitude": 26.728}},
		"outputs": {
			"monthly": {"fixed": [%s]},
			"totals": {"fixed": {"E_d": 2.4, "E_m": %g, "E_y": %g, "SD_m": 3.1, "SD_y": 41.2, "l_total": -22.4}}
		}
	}`, strings.Join(months, ","), annual/12, annual)
}

func newRequest(token int, tilt, azimuth float64) estimate.Request {
	return estimate.Request{
		Token:      token,
		Latitude:   58.378025,
		Longitude:  26.728493,
		Tilt:       tilt,
		Azimuth:    azimuth,
		Efficiency: 0.18,
		Loss:       14,
	}
}

func openClient(t *testing.T, cfg PVGISConfig) *PVGISClient {
	t.Helper()
	c := NewPVGISClient(cfg)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPVGISEstimateQuery(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(pvcalcBody(1095)))
	}))
	defer srv.Close()

	c := openClient(t, PVGISConfig{BaseURL: srv.URL, Timeout: time.Second})
	res, err := c.Estimate(context.Background(), newRequest(7, 35, -90))
	require.NoError(t, err)

	assert.Equal(t, 7, res.Token)
	require.NotNil(t, res.Response.Outputs.Totals.Fixed)
	assert.Equal(t, 1095.0, *res.Response.Outputs.Totals.Fixed.EY)
	assert.Len(t, res.Response.Outputs.Monthly.Fixed, 12)

	assert.Equal(t, "58.378025", got.Get("lat"))
	assert.Equal(t, "26.728493", got.Get("lon"))
	assert.Equal(t, "0.18", got.Get("peakpower"))
	assert.Equal(t, "14", got.Get("loss"))
	assert.Equal(t, "building", got.Get("mountingplace"))
	assert.Equal(t, "35", got.Get("angle"))
	assert.Equal(t, "-90", got.Get("aspect"))
	assert.Equal(t, "json", got.Get("outputformat"))
	assert.Equal(t, DefaultRadDatabase, got.Get("raddatabase"))
	assert.Equal(t, "0", got.Get("optimalangles"))
}

func TestPVGISOptimalAnglesForFlatRoofs(t *testing.T) {
	var optimal []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		optimal = append(optimal, r.URL.Query().Get("optimalangles"))
		mu.Unlock()
		_, _ = w.Write([]byte(pvcalcBody(900)))
	}))
	defer srv.Close()

	c := openClient(t, PVGISConfig{BaseURL: srv.URL, RadDatabase: "PVGIS-ERA5"})
	for _, tilt := range []float64{0, 10, 10.5} {
		_, err := c.Estimate(context.Background(), newRequest(0, tilt, 0))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"1", "1", "0"}, optimal)
}

func TestPVGISEstimateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "boom", errServerError},
		{"rate limited", http.StatusTooManyRequests, "slow down", errRateLimited},
		{"bad request", http.StatusBadRequest, `{"message": "Location over the sea"}`, errUnexpected},
		{"malformed json", http.StatusOK, `{"outputs":`, errBadPayload},
		{"missing totals", http.StatusOK, `{"outputs": {"monthly": {"fixed": []}}}`, errBadPayload},
		{"short monthly series", http.StatusOK, `{"outputs": {"totals": {"fixed": {"E_y": 1}}, "monthly": {"fixed": [{"month": 1}]}}}`, errBadPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := openClient(t, PVGISConfig{BaseURL: srv.URL})
			_, err := c.Estimate(context.Background(), newRequest(3, 30, 0))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var reqErr *estimate.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, 3, reqErr.Token)
			assert.Equal(t, estimate.Fingerprint{Tilt: 30, Azimuth: 0}, reqErr.Fingerprint)
		})
	}
}

func TestPVGISInvalidParams(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := openClient(t, PVGISConfig{BaseURL: srv.URL})
	_, err := c.Estimate(context.Background(), newRequest(0, 95, 0))
	assert.ErrorIs(t, err, errInvalidParams)

	req := newRequest(0, 30, 0)
	req.Efficiency = 0
	_, err = c.Estimate(context.Background(), req)
	assert.ErrorIs(t, err, errInvalidParams)
	assert.Zero(t, hits.Load())
}

func TestPVGISSessionLifecycle(t *testing.T) {
	c := NewPVGISClient(PVGISConfig{})
	assert.Equal(t, "pvgis", c.Name())

	_, err := c.Estimate(context.Background(), newRequest(0, 30, 0))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, c.Close(), ErrSessionClosed)

	require.NoError(t, c.Open(context.Background()))
	assert.ErrorIs(t, c.Open(context.Background()), ErrSessionOpen)
	require.NoError(t, c.Close())

	// a closed client can be reopened for the next run
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Open(ctx), context.Canceled)
}

func TestPVGISCircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := openClient(t, PVGISConfig{BaseURL: srv.URL, BreakerFailures: 2})
	for range 2 {
		_, err := c.Estimate(context.Background(), newRequest(0, 30, 0))
		assert.ErrorIs(t, err, errServerError)
	}

	_, err := c.Estimate(context.Background(), newRequest(0, 30, 0))
	assert.ErrorIs(t, err, errCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestPVGISHalfOpenAdmitsWholeBatch(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		// hold the half-open requests in flight together
		time.Sleep(30 * time.Millisecond)
		_, _ = w.Write([]byte(pvcalcBody(900)))
	}))
	defer srv.Close()

	const batch = 10
	c := openClient(t, PVGISConfig{
		BaseURL:          srv.URL,
		BreakerFailures:  1,
		BreakerTimeout:   20 * time.Millisecond,
		HalfOpenRequests: batch,
	})

	_, err := c.Estimate(context.Background(), newRequest(0, 30, 0))
	require.ErrorIs(t, err, errServerError)
	_, err = c.Estimate(context.Background(), newRequest(0, 30, 0))
	require.ErrorIs(t, err, errCircuitOpen)

	failing.Store(false)
	time.Sleep(40 * time.Millisecond)

	errs := make([]error, batch)
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Estimate(context.Background(), newRequest(i, float64(20+i), 0))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
}

func TestPVGISBreakerDefaults(t *testing.T) {
	c := NewPVGISClient(PVGISConfig{})
	assert.Equal(t, "pvgis", c.circuit.Name())
	assert.Equal(t, DefaultPVGISURL, c.baseURL)
	assert.Equal(t, DefaultRadDatabase, c.radDatabase)
}

func TestPVGISBreakerDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := openClient(t, PVGISConfig{BaseURL: srv.URL})
	for range 12 {
		_, err := c.Estimate(context.Background(), newRequest(0, 30, 0))
		assert.ErrorIs(t, err, errServerError)
	}
	assert.Equal(t, int32(12), hits.Load())
}

func TestPVGISBatchRunEndToEnd(t *testing.T) {
	var (
		mu     sync.Mutex
		angles []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		angles = append(angles, q.Get("angle")+"/"+q.Get("aspect"))
		mu.Unlock()

		annual := 1000.0
		if q.Get("aspect") == "-90" {
			annual = 800
		}
		_, _ = w.Write([]byte(pvcalcBody(annual)))
	}))
	defer srv.Close()

	roofs := []estimate.Roof{
		{Index: 0, Tilt: 5, Azimuth: 0},
		{Index: 1, Tilt: 5, Azimuth: 0},
		{Index: 2, Tilt: 40, Azimuth: -90},
	}

	client := NewPVGISClient(PVGISConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	sched := estimate.NewBatchScheduler(client, store.NewFingerprintCache(), estimate.BatchOptions{
		Latitude:   58.378025,
		Longitude:  26.728493,
		Efficiency: 0.18,
		Loss:       14,
	})

	sum, estimates, err := sched.Run(context.Background(), roofs)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"5/0", "40/-90"}, angles)
	assert.Equal(t, 2, sum.Requests)
	assert.Len(t, estimates, 2)
	assert.Equal(t, 1000.0, roofs[0].Production.AnnualKWhPerM2.Value)
	assert.Equal(t, roofs[0].Production, roofs[1].Production)
	assert.Equal(t, 800.0, roofs[2].Production.AnnualKWhPerM2.Value)
	assert.Equal(t, 41.2, roofs[2].Production.YearlyVariation.Value)

	// the session is released after the run
	assert.ErrorIs(t, client.Close(), ErrSessionClosed)
}
