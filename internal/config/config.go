package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
	"github.com/i474232898/roof-pv-estimation/internal/estimate/providers"
)

// Reference site (Tartu) used when no location is configured.
const (
	DefaultLatitude  = 58.378025
	DefaultLongitude = 26.728493
)

var validate = validator.New()

type AppConfig struct {
	PVGISURL        string        `validate:"required,url"`
	RadDatabase     string        `validate:"required"`
	HTTPTimeout     time.Duration `validate:"gt=0"`
	BreakerFailures int           `validate:"gte=0"`
	BreakerTimeout  time.Duration `validate:"gte=0"`

	// Batch pipeline.
	BatchSize     int           `validate:"gt=0"`
	BatchPause    time.Duration `validate:"gte=0"`
	FailurePolicy string        `validate:"oneof=partial abort"`

	// Site and PV system.
	Latitude        float64 `validate:"gte=-90,lte=90"`
	Longitude       float64 `validate:"gte=-180,lte=180"`
	LocationCity    string
	LocationCountry string
	GeocoderAPIKey  string
	Efficiency      float64 `validate:"gt=0"`
	Loss            float64 `validate:"gte=0,lte=100"`

	// Dataset files.
	RoofsFile  string `validate:"required"`
	OutputFile string `validate:"required"`

	// RunInterval controls how often the server re-estimates (0 = once).
	RunInterval time.Duration `validate:"gte=0"`

	// In-memory run history retention.
	RunMaxHistory int           // max number of runs kept (0 = unlimited)
	RunMaxAge     time.Duration // max age of runs (0 = unlimited)

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.PVGISURL = getenvDefault("PVGIS_URL", providers.DefaultPVGISURL)
	cfg.RadDatabase = getenvDefault("PVGIS_RAD_DATABASE", providers.DefaultRadDatabase)
	cfg.BreakerFailures = getenvInt("PVGIS_BREAKER_FAILURES", 10)

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.BreakerTimeout, err = getenvDuration("PVGIS_BREAKER_TIMEOUT", "1m"); err != nil {
		return nil, err
	}

	cfg.BatchSize = getenvInt("BATCH_SIZE", estimate.DefaultBatchSize)
	if cfg.BatchPause, err = getenvDuration("BATCH_PAUSE", estimate.DefaultBatchPause.String()); err != nil {
		return nil, err
	}
	cfg.FailurePolicy = getenvDefault("FAILURE_POLICY", string(estimate.PolicyPartial))

	if cfg.Latitude, err = getenvFloat("PV_LAT", DefaultLatitude); err != nil {
		return nil, err
	}
	if cfg.Longitude, err = getenvFloat("PV_LON", DefaultLongitude); err != nil {
		return nil, err
	}
	cfg.LocationCity = os.Getenv("PV_LOCATION_CITY")
	cfg.LocationCountry = os.Getenv("PV_LOCATION_COUNTRY")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")

	if cfg.Efficiency, err = getenvFloat("PV_EFFICIENCY", 0.18); err != nil {
		return nil, err
	}
	if cfg.Loss, err = getenvFloat("PV_LOSS", 14); err != nil {
		return nil, err
	}

	cfg.RoofsFile = getenvDefault("ROOFS_FILE", "data/roofs/roofs.csv")
	cfg.OutputFile = getenvDefault("OUTPUT_FILE", "data/roofs/estimated_production.csv")

	if cfg.RunInterval, err = getenvDuration("RUN_INTERVAL", "0s"); err != nil {
		return nil, err
	}
	cfg.RunMaxHistory = getenvInt("RUN_MAX_HISTORY", 20)
	if cfg.RunMaxAge, err = getenvDuration("RUN_MAX_AGE", "168h"); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

// Validate checks value ranges after flags have been applied.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// BatchOptions maps the configuration onto the pipeline options.
func (c *AppConfig) BatchOptions() estimate.BatchOptions {
	return estimate.BatchOptions{
		Size:       c.BatchSize,
		Pause:      c.BatchPause,
		Policy:     estimate.FailurePolicy(c.FailurePolicy),
		Latitude:   c.Latitude,
		Longitude:  c.Longitude,
		Efficiency: c.Efficiency,
		Loss:       c.Loss,
	}
}

// PVGIS maps the configuration onto the provider client settings. The
// half-open circuit admits a full batch.
func (c *AppConfig) PVGIS() providers.PVGISConfig {
	return providers.PVGISConfig{
		BaseURL:          c.PVGISURL,
		RadDatabase:      c.RadDatabase,
		Timeout:          c.HTTPTimeout,
		BreakerFailures:  uint32(c.BreakerFailures),
		BreakerTimeout:   c.BreakerTimeout,
		HalfOpenRequests: uint32(c.BatchSize),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
