// Package config reads service configuration from the environment with
// sensible defaults. A .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"weatherdash/internal/logger"
	"weatherdash/internal/weather"
)

var validate = validator.New()

// AppConfig is the full service configuration.
type AppConfig struct {
	// Provider credentials. Absence of a key disables that provider and
	// the free-tier sources carry the load.
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string

	// ProviderPriority orders providers for fallback; first is primary.
	ProviderPriority []string `validate:"min=1"`

	// AggregationPolicy is "priority" (default) or "race".
	AggregationPolicy weather.PolicyMode `validate:"oneof=priority race"`

	// Cache TTLs per data kind and overall entry capacity.
	CacheTTLs     map[weather.Kind]time.Duration
	CacheCapacity int `validate:"gt=0"`

	// Outbound HTTP budget per attempt.
	HTTPTimeout time.Duration `validate:"gt=0"`

	// RefreshInterval drives the background warm-up of RefreshLocations.
	RefreshInterval  time.Duration `validate:"gt=0"`
	RefreshLocations []weather.Coordinates

	// Durable retry queue settings.
	QueueBackend       string `validate:"oneof=file redis"`
	QueueDir           string
	QueueMaxAttempts   int
	QueueDrainInterval time.Duration `validate:"gt=0"`
	RedisAddr          string

	// Offline shell cache settings.
	ShellCacheDir      string
	ShellCacheVersion  string
	ShellManifest      []string
	AppOrigin          string
	PassthroughOrigins []string

	Port string
}

// Load reads configuration from the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logger.GetLogger().Debugw("no .env file loaded", "error", err)
	}

	cfg := &AppConfig{
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		WeatherAPIKey:     os.Getenv("WEATHERAPI_API_KEY"),
		GeocoderAPIKey:    os.Getenv("GEOCODER_API_KEY"),

		AggregationPolicy: weather.PolicyMode(getenvDefault("AGGREGATION_POLICY", "priority")),
		CacheCapacity:     getenvInt("CACHE_CAPACITY", 256),

		QueueBackend:     getenvDefault("QUEUE_BACKEND", "file"),
		QueueDir:         getenvDefault("QUEUE_DIR", "data/retry-queue"),
		QueueMaxAttempts: getenvInt("QUEUE_MAX_ATTEMPTS", 10),
		RedisAddr:        getenvDefault("REDIS_ADDR", "localhost:6379"),

		ShellCacheDir:      getenvDefault("SHELL_CACHE_DIR", "data/shell-cache"),
		ShellCacheVersion:  getenvDefault("SHELL_CACHE_VERSION", "v1"),
		AppOrigin:          getenvDefault("APP_ORIGIN", "http://localhost:8080"),
		ShellManifest:      splitList(os.Getenv("SHELL_MANIFEST")),
		PassthroughOrigins: splitList(os.Getenv("API_PASSTHROUGH_ORIGINS")),

		Port: getenvDefault("PORT", "8080"),
	}

	cfg.ProviderPriority = splitList(getenvDefault(
		"PROVIDER_PRIORITY", "openmeteo,openweathermap,weatherapi"))

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.QueueDrainInterval, err = getenvDuration("QUEUE_DRAIN_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.CacheTTLs = weather.DefaultTTLs()
	for kind, envKey := range map[weather.Kind]string{
		weather.KindCurrent:    "CACHE_TTL_CURRENT",
		weather.KindForecast:   "CACHE_TTL_FORECAST",
		weather.KindHistorical: "CACHE_TTL_HISTORICAL",
		weather.KindSun:        "CACHE_TTL_SUN",
		weather.KindLocation:   "CACHE_TTL_LOCATION",
		weather.KindAlerts:     "CACHE_TTL_ALERTS",
	} {
		ttl, err := getenvDuration(envKey, cfg.CacheTTLs[kind])
		if err != nil {
			return nil, err
		}
		cfg.CacheTTLs[kind] = ttl
	}

	if cfg.RefreshLocations, err = parseLocations(os.Getenv("REFRESH_LOCATIONS")); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseLocations parses "lat,lon;lat,lon" pairs.
func parseLocations(s string) ([]weather.Coordinates, error) {
	if s == "" {
		return nil, nil
	}
	var out []weather.Coordinates
	for _, pair := range strings.Split(s, ";") {
		parts := strings.Split(strings.TrimSpace(pair), ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid REFRESH_LOCATIONS entry %q (want lat,lon)", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in %q: %w", pair, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in %q: %w", pair, err)
		}
		out = append(out, weather.Coordinates{Lat: lat, Lon: lon})
	}
	return out, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
