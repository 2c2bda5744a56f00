package estimate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Fingerprint is the physical configuration of a roof surface.
// Two roofs with equal fingerprints produce the same energy per unit area.
// Values are compared exactly; callers are expected to round upstream.
type Fingerprint struct {
	Tilt    float64 `json:"tilt"`
	Azimuth float64 `json:"azimuth"`
}

// String returns a canonical string form of the fingerprint.
func (f Fingerprint) String() string {
	return strconv.FormatFloat(f.Tilt, 'f', -1, 64) + ":" + strconv.FormatFloat(f.Azimuth, 'f', -1, 64)
}

// Roof is one row of the input dataset.
// Index is the caller's row identity; it is carried through untouched.
type Roof struct {
	Index      int
	Tilt       float64
	Azimuth    float64
	Production Production
}

// Fingerprint returns the deduplication key of the roof.
func (r Roof) Fingerprint() Fingerprint {
	return Fingerprint{Tilt: r.Tilt, Azimuth: r.Azimuth}
}

// NullFloat is a numeric column value that may be explicitly null.
type NullFloat struct {
	Value float64
	Valid bool
}

// Float returns a valid NullFloat holding v.
func Float(v float64) NullFloat {
	return NullFloat{Value: v, Valid: true}
}

// MarshalJSON encodes an invalid value as null.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON decodes null into an invalid value.
func (n *NullFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("null float: %w", err)
	}
	*n = Float(v)
	return nil
}

// Production holds the derived per-square-metre columns written onto a roof.
type Production struct {
	AnnualKWhPerM2         NullFloat     `json:"annualKwhPerM2"`
	YearlyVariation        NullFloat     `json:"yearlyVariation"`
	MonthlyAverageKWhPerM2 NullFloat     `json:"monthlyAverageKwhPerM2"`
	TotalLoss              NullFloat     `json:"totalLoss"`
	MonthlyKWhPerM2        [12]NullFloat `json:"monthlyKwhPerM2"`
}

// RawResponse is the PVcalc payload kept in the fingerprint cache.
// Numeric fields stay nullable until the merge derives columns from them.
type RawResponse struct {
	Outputs Outputs `json:"outputs"`
}

// Outputs is the "outputs" section of a PVcalc response.
type Outputs struct {
	Totals struct {
		Fixed *FixedTotals `json:"fixed"`
	} `json:"totals"`
	Monthly struct {
		Fixed []MonthlyYield `json:"fixed"`
	} `json:"monthly"`
}

// FixedTotals are the yearly figures for a fixed mounting.
type FixedTotals struct {
	EY     *float64 `json:"E_y"`     // annual yield
	SDY    *float64 `json:"SD_y"`    // year-over-year standard deviation
	EM     *float64 `json:"E_m"`     // average monthly yield
	LTotal *float64 `json:"l_total"` // total system loss, percent
}

// MonthlyYield is one entry of the monthly fixed-mounting series.
type MonthlyYield struct {
	Month int      `json:"month"`
	EM    *float64 `json:"E_m"`
}

// Orientation is a coarse compass classification of a roof surface.
type Orientation string

const (
	OrientationNone  Orientation = "none"
	OrientationSouth Orientation = "south"
	OrientationEast  Orientation = "east"
	OrientationWest  Orientation = "west"
	OrientationNorth Orientation = "north"
)

// OrientationOf classifies a surface. Azimuth follows the PVGIS convention:
// 0 is south, -90 east, 90 west. Near-flat roofs have no orientation.
func OrientationOf(tilt, azimuth float64) Orientation {
	switch {
	case tilt <= FlatRoofMaxTilt:
		return OrientationNone
	case azimuth >= -45 && azimuth <= 45:
		return OrientationSouth
	case azimuth >= -135 && azimuth <= -45:
		return OrientationEast
	case azimuth >= 45 && azimuth <= 135:
		return OrientationWest
	default:
		return OrientationNorth
	}
}

// FlatRoofMaxTilt is the tilt at or below which a roof is treated as flat.
const FlatRoofMaxTilt = 10.0

// Table is a roof dataset: opaque rows plus the parsed roof view of each row.
// Roofs[i] describes Rows[i].
type Table struct {
	Columns []string
	Rows    [][]string
	Roofs   []Roof
}

// RunSummary describes one completed estimation run.
type RunSummary struct {
	ID                 uuid.UUID           `json:"id"`
	StartedAt          time.Time           `json:"startedAt"` // always UTC
	Duration           time.Duration       `json:"duration"`
	Roofs              int                 `json:"roofs"`
	Fingerprints       int                 `json:"fingerprints"`
	Requests           int                 `json:"requests"`
	CacheHits          int                 `json:"cacheHits"`
	Batches            int                 `json:"batches"`
	FailedFingerprints int                 `json:"failedFingerprints"`
	NullRoofs          int                 `json:"nullRoofs"`
	Orientations       map[Orientation]int `json:"orientations,omitempty"`
	Err                string              `json:"error,omitempty"`
}

// BatchEvent is emitted after every batch has been joined.
type BatchEvent struct {
	RunID     uuid.UUID
	Index     int
	Size      int
	Waiters   int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Err       error
}
