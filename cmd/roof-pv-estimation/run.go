package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/roof-pv-estimation/internal/api/http"
	"github.com/i474232898/roof-pv-estimation/internal/config"
	"github.com/i474232898/roof-pv-estimation/internal/dataset"
	"github.com/i474232898/roof-pv-estimation/internal/estimate"
	"github.com/i474232898/roof-pv-estimation/internal/estimate/providers"
	"github.com/i474232898/roof-pv-estimation/internal/location"
	"github.com/i474232898/roof-pv-estimation/internal/metrics"
	"github.com/i474232898/roof-pv-estimation/internal/scheduler"
	"github.com/i474232898/roof-pv-estimation/internal/store"
)

// loadConfig reads the environment, applies the flags and validates the result.
func loadConfig(cmd *cobra.Command, flags *runFlags) (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	flags.apply(cmd, cfg)

	site, err := location.Resolve(
		location.NewGoogleGeocoder(cfg.GeocoderAPIKey),
		cfg.LocationCity, cfg.LocationCountry,
		location.Site{Latitude: cfg.Latitude, Longitude: cfg.Longitude},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve location: %w", err)
	}
	cfg.Latitude, cfg.Longitude = site.Latitude, site.Longitude

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newService wires the estimation service from the configuration.
func newService(cfg *config.AppConfig, observers ...estimate.Observer) *estimate.Service {
	// In-memory run history with configured retention.
	runs := store.NewMemoryStore(cfg.RunMaxHistory, cfg.RunMaxAge)

	client := providers.NewPVGISClient(cfg.PVGIS())
	file := dataset.CSVFile{InputPath: cfg.RoofsFile, OutputPath: cfg.OutputFile}
	newCache := func() estimate.Cache { return store.NewFingerprintCache() }

	observers = append([]estimate.Observer{estimate.LogObserver{}}, observers...)
	return estimate.NewService(runs, client, file, file, newCache, cfg.BatchOptions(), observers...)
}

func runEstimate(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	log.Printf("INFO: estimating %s at %.6f,%.6f (efficiency %.2f, loss %.1f%%)",
		cfg.RoofsFile, cfg.Latitude, cfg.Longitude, cfg.Efficiency, cfg.Loss)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := newService(cfg).Estimate(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func runServe(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("roofpv", nil)
	service := newService(cfg, collector)

	// Scheduler that periodically re-estimates and records runs.
	sched := scheduler.New(cfg.RunInterval, 0, service)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "roof-pv-estimation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "roof-pv-estimation",
			"running": service.Running(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service, 0)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	log.Printf("INFO: listening on :%s", cfg.Port)

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}
