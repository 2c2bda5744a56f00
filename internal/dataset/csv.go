package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
)

// Input columns the pipeline interprets.
const (
	ColTilt    = "tilt"
	ColAzimuth = "azimuth"
)

// Derived output columns, per square metre of PV area.
const (
	ColAnnual         = "annual_kwh/pv_m2"
	ColYearlyVariance = "y-y_variation/pv_m2"
	ColMonthlyAverage = "monthly_average_kwh/pv_m2"
	ColTotalLoss      = "total_loss"
)

var (
	// ErrMissingColumn is returned when the header lacks tilt or azimuth.
	ErrMissingColumn = errors.New("missing required column")
	// ErrEmptyFile is returned for an input without a header row.
	ErrEmptyFile = errors.New("empty roofs file")
	// ErrNotFinite is returned for NaN or infinite tilt and azimuth values.
	ErrNotFinite = errors.New("value is not a finite number")
)

// MonthlyColumns returns the twelve monthly column names, Jan to Dec.
func MonthlyColumns() []string {
	cols := make([]string, 12)
	for i := range cols {
		cols[i] = time.Month(i+1).String()[:3] + "_kwh/pv_m2"
	}
	return cols
}

// DerivedColumns returns every column written by the merge, in output order.
func DerivedColumns() []string {
	return append([]string{ColAnnual, ColYearlyVariance, ColMonthlyAverage, ColTotalLoss}, MonthlyColumns()...)
}

// CSVFile reads roofs from InputPath and writes the annotated table to OutputPath.
type CSVFile struct {
	InputPath  string
	OutputPath string
}

// Load reads the roofs table.
func (f CSVFile) Load(ctx context.Context) (*estimate.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open roofs file: %w", err)
	}
	defer file.Close()

	return Read(file)
}

// Save writes the table next to OutputPath and renames it into place, so a
// partially written file never replaces a previous output.
func (f CSVFile) Save(ctx context.Context, t *estimate.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(f.OutputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".estimated-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return os.Rename(tmp.Name(), f.OutputPath)
}

// Read parses a CSV roofs table. Columns other than tilt and azimuth are
// carried through untouched.
func Read(r io.Reader) (*estimate.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	tiltIdx, azimuthIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) {
		case ColTilt:
			tiltIdx = i
		case ColAzimuth:
			azimuthIdx = i
		}
	}
	if tiltIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColTilt)
	}
	if azimuthIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColAzimuth)
	}

	t := &estimate.Table{Columns: header}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(row))
		}

		tilt, err := parseNumber(row[tiltIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid tilt: %w", line, err)
		}
		azimuth, err := parseNumber(row[azimuthIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid azimuth: %w", line, err)
		}

		t.Roofs = append(t.Roofs, estimate.Roof{
			Index:   len(t.Rows),
			Tilt:    tilt,
			Azimuth: azimuth,
		})
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// Write emits the table with the derived columns. Derived columns already
// present in the input are overwritten in place, others are appended.
func Write(w io.Writer, t *estimate.Table) error {
	derived := DerivedColumns()

	header := append([]string(nil), t.Columns...)
	positions := make([]int, len(derived))
	for i, name := range derived {
		positions[i] = indexOf(header, name)
		if positions[i] < 0 {
			positions[i] = len(header)
			header = append(header, name)
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range t.Rows {
		out := make([]string, len(header))
		copy(out, row)

		var prod estimate.Production
		if i < len(t.Roofs) {
			prod = t.Roofs[i].Production
		}
		for j, v := range productionValues(prod) {
			out[positions[j]] = formatNullable(v)
		}

		if err := writer.Write(out); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// productionValues lists the production in DerivedColumns order.
func productionValues(p estimate.Production) []estimate.NullFloat {
	values := []estimate.NullFloat{
		p.AnnualKWhPerM2,
		p.YearlyVariation,
		p.MonthlyAverageKWhPerM2,
		p.TotalLoss,
	}
	return append(values, p.MonthlyKWhPerM2[:]...)
}

func formatNullable(v estimate.NullFloat) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Value, 'f', -1, 64)
}

// parseNumber accepts finite numbers only; NaN never equals itself and
// would defeat fingerprint deduplication.
func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNotFinite, s)
	}
	return v, nil
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
