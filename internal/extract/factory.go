package extract

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"mdetl/internal/config"
	"mdetl/internal/infrastructure"
	"mdetl/internal/ratelimit"
	"mdetl/internal/retry"
)

// Factory builds extractors wired with shared limiters, pacing, retry
// policy and metrics. One factory serves all entity types in a process
// so extractors hitting the same source share a rate-limit quota.
type Factory struct {
	cfg      *config.Config
	registry *ratelimit.Registry
	pacer    *rate.Limiter
	policy   *retry.Policy
	metrics  *infrastructure.Metrics
	logger   *slog.Logger
}

// NewFactory creates the extractor factory. The pacer is shared across
// every client the factory builds.
func NewFactory(cfg *config.Config, registry *ratelimit.Registry, pacer *rate.Limiter, policy *retry.Policy, metrics *infrastructure.Metrics, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:      cfg,
		registry: registry,
		pacer:    pacer,
		policy:   policy,
		metrics:  metrics,
		logger:   logger,
	}
}

// sourceFor maps an entity type to the source that serves it.
func sourceFor(entity EntityType) (string, error) {
	switch entity {
	case EntityStock, EntityForex, EntityCrypto:
		return SourceTwelveData, nil
	case EntityEconomic:
		return SourceFRED, nil
	case EntityWeather:
		return SourceOpenWeather, nil
	default:
		return "", fmt.Errorf("no source serves entity type %q", entity)
	}
}

// For returns an extractor for the entity type, or an error when the
// serving source is not configured.
func (f *Factory) For(entity EntityType) (Extractor, error) {
	source, err := sourceFor(entity)
	if err != nil {
		return nil, err
	}
	src, ok := f.cfg.Sources[source]
	if !ok {
		return nil, fmt.Errorf("source %q is not configured", source)
	}
	if src.APIKey == "" {
		return nil, fmt.Errorf("source %q has no API key", source)
	}

	client := f.client(source, src)
	switch source {
	case SourceTwelveData:
		return NewTwelveData(entity, src.APIKey, client)
	case SourceFRED:
		return NewFRED(src.APIKey, client), nil
	case SourceOpenWeather:
		return NewOpenWeather(src.APIKey, f.cfg.Pipeline.WeatherUnits, client), nil
	}
	return nil, fmt.Errorf("no source serves entity type %q", entity)
}

func (f *Factory) client(source string, src config.SourceConfig) *Client {
	window := src.Window
	if window <= 0 {
		window = time.Minute
	}
	return NewClient(ClientOptions{
		Source:    source,
		BaseURL:   src.BaseURL,
		Limiter:   f.registry.For(source, src.MaxRequests, window),
		Pacer:     f.pacer,
		Policy:    f.policy,
		Metrics:   f.metrics,
		Logger:    f.logger.With(slog.String("source", source)),
		Timeout:   f.cfg.Pipeline.HTTPTimeout,
		CheckBody: bodyCheckFor(source),
	})
}

func bodyCheckFor(source string) bodyCheck {
	switch source {
	case SourceTwelveData:
		return twelveDataBodyCheck
	case SourceOpenWeather:
		return openWeatherBodyCheck
	default:
		return nil
	}
}
