package httpapi

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
	"github.com/i474232898/roof-pv-estimation/internal/store"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
// runTimeout bounds runs triggered through the API (0 = unbounded).
func RegisterRoutes(app *fiber.App, service *estimate.Service, runTimeout time.Duration) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		runs, err := service.ListRuns(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no estimation runs for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list estimation runs")
		}

		return c.JSON(fiber.Map{
			"running": service.Running(),
			"runs":    runs,
		})
	})

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		rec, err := service.GetLatest()
		if err != nil {
			return runError(err)
		}
		return c.JSON(rec.Summary)
	})

	v1.Get("/runs/:id", func(c *fiber.Ctx) error {
		rec, err := service.GetRun(c.Params("id"))
		if err != nil {
			return runError(err)
		}
		return c.JSON(rec.Summary)
	})

	v1.Post("/runs", func(c *fiber.Ctx) error {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if runTimeout > 0 {
			ctx, cancel = context.WithTimeout(context.Background(), runTimeout)
		} else {
			ctx, cancel = context.WithCancel(context.Background())
		}

		err := service.Go(ctx, func(_ estimate.RunSummary, err error) {
			cancel()
			if err != nil {
				log.Printf("api: triggered run failed: %v", err)
			}
		})
		if err != nil {
			cancel()
			if errors.Is(err, estimate.ErrRunInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to start estimation run")
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "started",
		})
	})

	v1.Get("/estimates", func(c *fiber.Ctx) error {
		var q fingerprintQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		fp := estimate.Fingerprint{Tilt: *q.Tilt, Azimuth: *q.Azimuth}
		prod, sum, err := service.Lookup(fp)
		if err != nil {
			if errors.Is(err, estimate.ErrUnknownFingerprint) {
				return fiber.NewError(fiber.StatusNotFound, "no estimate for requested tilt and azimuth")
			}
			return runError(err)
		}

		return c.JSON(fiber.Map{
			"runId":       sum.ID,
			"fingerprint": fp,
			"orientation": estimate.OrientationOf(fp.Tilt, fp.Azimuth),
			"production":  prod,
		})
	})
}

func runError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no estimation run found")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch estimation run")
}

// fingerprintQuery holds query parameters identifying a roof configuration.
type fingerprintQuery struct {
	Tilt    *float64 `validate:"required,gte=0,lte=90"`
	Azimuth *float64 `validate:"required,gte=-180,lte=180"`
}

func (q *fingerprintQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.Tilt, err = parseOptionalFloat(c.Query("tilt")); err != nil {
		return errors.New("invalid tilt")
	}
	if q.Azimuth, err = parseOptionalFloat(c.Query("azimuth")); err != nil {
		return errors.New("invalid azimuth")
	}
	return nil
}

// rangeQuery holds the optional bounds of the runs listing.
type rangeQuery struct {
	From time.Time
	To   time.Time `validate:"omitempty,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	if s := c.Query("from"); s != "" {
		from, err := parseTime(s)
		if err != nil {
			return err
		}
		r.From = from
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s)
		if err != nil {
			return err
		}
		r.To = to
	}
	return nil
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
