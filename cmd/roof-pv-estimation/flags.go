package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/roof-pv-estimation/internal/config"
)

// runFlags override the environment configuration when set.
type runFlags struct {
	filename   string
	output     string
	lat        float64
	lon        float64
	efficiency float64
	loss       float64
	batchSize  int
	pause      time.Duration
	policy     string
}

func (f *runFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.filename, "filename", "", "filename of the roofs data (ROOFS_FILE)")
	pf.StringVar(&f.output, "output", "", "path of the annotated output table (OUTPUT_FILE)")
	pf.Float64Var(&f.lat, "lat", config.DefaultLatitude, "location latitude, defaults to Tartu")
	pf.Float64Var(&f.lon, "lon", config.DefaultLongitude, "location longitude, defaults to Tartu")
	pf.Float64Var(&f.efficiency, "pv-efficiency", 0.18, "efficiency of the PV system")
	pf.Float64Var(&f.loss, "pv-loss", 14, "loss in cables, power inverters, dirt, etc., in percent")
	pf.IntVar(&f.batchSize, "batch-size", 30, "distinct requests sent concurrently per batch")
	pf.DurationVar(&f.pause, "pause", time.Second, "delay between full batches")
	pf.StringVar(&f.policy, "policy", "partial", "behaviour on a failed request: partial or abort")
}

// apply copies every flag the user set onto cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.AppConfig) {
	set := cmd.Flags().Changed

	if set("filename") {
		cfg.RoofsFile = f.filename
	}
	if set("output") {
		cfg.OutputFile = f.output
	}
	if set("lat") {
		cfg.Latitude = f.lat
		cfg.LocationCity = ""
	}
	if set("lon") {
		cfg.Longitude = f.lon
		cfg.LocationCity = ""
	}
	if set("pv-efficiency") {
		cfg.Efficiency = f.efficiency
	}
	if set("pv-loss") {
		cfg.Loss = f.loss
	}
	if set("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if set("pause") {
		cfg.BatchPause = f.pause
	}
	if set("policy") {
		cfg.FailurePolicy = f.policy
	}
}
