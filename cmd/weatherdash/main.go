package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	httpapi "weatherdash/internal/api/http"
	"weatherdash/internal/cache"
	"weatherdash/internal/config"
	"weatherdash/internal/logger"
	"weatherdash/internal/queue"
	"weatherdash/internal/scheduler"
	"weatherdash/internal/shell"
	"weatherdash/internal/weather"
	"weatherdash/internal/weather/providers"
)

// providerAPIOrigins are never intercepted by the shell cache; provider
// resilience and caching live in the fetch policy and response cache.
var providerAPIOrigins = []string{
	"https://api.open-meteo.com",
	"https://archive-api.open-meteo.com",
	"https://api.openweathermap.org",
	"https://api.weatherapi.com",
	"https://nominatim.openstreetmap.org",
	"https://api.weather.gov",
	"https://maps.googleapis.com",
}

func main() {
	log := logger.GetLogger()
	defer logger.Close() //nolint:errcheck // best-effort flush

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	// Offline shell cache intercepts every outbound request except the
	// provider API origins.
	shellCache, err := shell.New(shell.Config{
		Version:              cfg.ShellCacheVersion,
		Dir:                  cfg.ShellCacheDir,
		AppOrigin:            cfg.AppOrigin,
		Manifest:             cfg.ShellManifest,
		PassthroughOrigins:   append(providerAPIOrigins, cfg.PassthroughOrigins...),
		StaleWhileRevalidate: true,
	}, http.DefaultTransport)
	if err != nil {
		log.Fatalw("failed to create shell cache", "error", err)
	}

	installCtx, cancelInstall := context.WithTimeout(context.Background(), time.Minute)
	if err := shellCache.Install(installCtx); err != nil {
		log.Warnw("shell cache install incomplete", "error", err)
	}
	cancelInstall()
	if err := shellCache.Activate(); err != nil {
		log.Fatalw("failed to activate shell cache", "error", err)
	}

	// Outbound client for providers and shell assets goes through the
	// interceptor; the queue replays on a direct client so a cached
	// fallback can never masquerade as replay success.
	interceptedClient := &http.Client{Transport: shellCache, Timeout: cfg.HTTPTimeout}
	directClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var queueStorage queue.Storage
	if cfg.QueueBackend == "redis" {
		queueStorage = queue.NewRedisStorage(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		queueStorage, err = queue.NewFileStorage(cfg.QueueDir)
		if err != nil {
			log.Fatalw("failed to open retry queue storage", "error", err)
		}
	}
	retryQueue := queue.New(queueStorage, directClient,
		queue.WithMaxAttempts(cfg.QueueMaxAttempts))

	respCache := cache.NewResponseCache[*weather.NormalizedResult](cfg.CacheCapacity)

	aggregator := weather.NewAggregator(
		buildProviders(cfg, interceptedClient),
		respCache,
		weather.WithQueue(retryQueue),
		weather.WithMode(cfg.AggregationPolicy),
		weather.WithTTLs(cfg.CacheTTLs),
	)

	sched := scheduler.New(aggregator, retryQueue, respCache,
		cfg.RefreshLocations, cfg.RefreshInterval, cfg.QueueDrainInterval)
	if err := sched.Start(); err != nil {
		log.Fatalw("failed to start scheduler", "error", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weatherdash",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
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

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weatherdash",
		})
	})

	httpapi.RegisterRoutes(app, aggregator, retryQueue)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorw("fiber server stopped", "error", err)
		}
	}()
	log.Infow("weatherdash started", "port", cfg.Port, "policy", cfg.AggregationPolicy)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorw("error during shutdown", "error", err)
	}
}

// buildProviders assembles the provider set in the configured priority
// order. Keyed providers without credentials are skipped; the free-tier
// sources always load.
func buildProviders(cfg *config.AppConfig, client *http.Client) []weather.Provider {
	log := logger.GetLogger()

	available := map[string]weather.Provider{}
	available["openmeteo"] = providers.NewOpenMeteoProvider(client)
	if cfg.OpenWeatherAPIKey != "" {
		available["openweathermap"] = providers.NewOpenWeatherProvider(client, cfg.OpenWeatherAPIKey)
	}
	if cfg.WeatherAPIKey != "" {
		available["weatherapi"] = providers.NewWeatherAPIProvider(client, cfg.WeatherAPIKey)
	}

	var provs []weather.Provider
	for _, name := range cfg.ProviderPriority {
		p, ok := available[name]
		if !ok {
			log.Infow("provider unavailable, skipping", "provider", name)
			continue
		}
		provs = append(provs, p)
		delete(available, name)
	}

	// Sources outside the priority list still serve their own kinds.
	if cfg.GeocoderAPIKey != "" {
		provs = append(provs, providers.NewGoogleGeocoderProvider(cfg.GeocoderAPIKey))
	}
	provs = append(provs,
		providers.NewNominatimProvider(client),
		providers.NewOpenMeteoArchiveProvider(client),
		providers.NewNWSAlertsProvider(client),
	)
	return provs
}
