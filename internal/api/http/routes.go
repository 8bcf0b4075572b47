// Package httpapi exposes the aggregator to the UI collaborator over HTTP.
// Responses carry fromCache/stale/sources provenance, never internal cache
// or queue state.
package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/queue"
	"weatherdash/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, aggregator *weather.Aggregator, retryQueue *queue.Queue) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		req, err := parseCoordsQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := aggregator.GetWeather(c.Context(), req.toCoords(), weather.Options{
			Units: weather.Units(c.Query("units", string(weather.UnitsMetric))),
		})
		return respond(c, result, err)
	})

	v1.Get("/weather/forecast", func(c *fiber.Ctx) error {
		req, err := parseCoordsQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		days, err := strconv.Atoi(c.Query("days", "7"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid days parameter")
		}
		result, err := aggregator.GetWeather(c.Context(), req.toCoords(), weather.Options{Days: days})
		return respond(c, result, err)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := aggregator.GetHistorical(c.Context(), req.Coords.toCoords(), req.From, req.To)
		return respond(c, result, err)
	})

	v1.Get("/weather/sun", func(c *fiber.Ctx) error {
		req, err := parseCoordsQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := aggregator.GetSunEvents(c.Context(), req.toCoords())
		return respond(c, result, err)
	})

	v1.Get("/weather/alerts", func(c *fiber.Ctx) error {
		req, err := parseCoordsQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := aggregator.GetAlerts(c.Context(), req.toCoords())
		return respond(c, result, err)
	})

	v1.Get("/location", func(c *fiber.Ctx) error {
		req, err := parseCoordsQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := aggregator.GetLocationDetails(c.Context(), req.toCoords())
		return respond(c, result, err)
	})

	// The UI collaborator notifies connectivity restoration here; it maps
	// to one drain of the durable retry queue.
	v1.Post("/system/online", func(c *fiber.Ctx) error {
		if retryQueue == nil {
			return c.JSON(fiber.Map{"drained": false})
		}
		result, err := retryQueue.NotifyOnline(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "drain failed")
		}
		return c.JSON(result)
	})
}

// respond maps aggregation outcomes onto HTTP. Validation problems are the
// caller's fault; total provider failure is a 502 carrying per-provider
// detail so the UI can render an actionable message.
func respond(c *fiber.Ctx, result *weather.AggregatedResult, err error) error {
	if err == nil {
		return c.JSON(result)
	}

	var agg *apperrors.AggregateError
	if errors.As(err, &agg) {
		payload := fiber.Map{
			"error":     true,
			"message":   "no provider could supply data",
			"providers": agg.Failures,
		}
		if result != nil {
			payload["sources"] = result.Sources
		}
		return c.Status(fiber.StatusBadGateway).JSON(payload)
	}

	if apperrors.TypeOf(err) == apperrors.TypeValidation {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
}

// coordsQuery holds the lat/lon query parameters common to all endpoints.
type coordsQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

func (q coordsQuery) toCoords() weather.Coordinates {
	return weather.Coordinates{Lat: q.Lat, Lon: q.Lon}
}

func parseCoordsQuery(c *fiber.Ctx) (coordsQuery, error) {
	var q coordsQuery

	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if latStr == "" || lonStr == "" {
		return q, errors.New("lat and lon query parameters are required")
	}

	var err error
	if q.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return q, errors.New("invalid lat parameter")
	}
	if q.Lon, err = strconv.ParseFloat(lonStr, 64); err != nil {
		return q, errors.New("invalid lon parameter")
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// historyQuery holds parameters for the history endpoint.
type historyQuery struct {
	Coords coordsQuery
	From   time.Time `validate:"required"`
	To     time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	coords, err := parseCoordsQuery(c)
	if err != nil {
		return err
	}
	h.Coords = coords

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	if h.From, err = parseTime(fromStr); err != nil {
		return err
	}
	if h.To, err = parseTime(toStr); err != nil {
		return err
	}
	return validate.Struct(h)
}

// parseTime tries RFC3339, then a plain date, then Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}
