// Package validate partitions standardized records into accepted and
// rejected sets. Every rule is evaluated for every record so rejection
// reasons are complete rather than first-failure-only.
package validate

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"mdetl/internal/extract"
	"mdetl/internal/standardize"
)

// Minimum observations before a z-score baseline is trusted.
const minBaseline = 5

// baselineWindow caps how many prior observations feed the rolling
// mean/stddev.
const baselineWindow = 20

// Rejection pairs a rejected record with every reason it violated.
type Rejection struct {
	Record  standardize.Record
	Reasons []string
}

// Outcome is the result of validating one batch.
type Outcome struct {
	Accepted []standardize.Record
	Rejected []Rejection
	// Anomalies counts records flagged by the z-score check, whether
	// they were accepted or rejected.
	Anomalies int
}

// Validator applies schema, range, consistency and anomaly rules.
// Stateless across calls; safe for concurrent use.
type Validator struct {
	allowAnomalies bool
	zThreshold     float64
	logger         *slog.Logger
}

// New creates a Validator. A zThreshold <= 0 disables the anomaly check.
func New(allowAnomalies bool, zThreshold float64, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		allowAnomalies: allowAnomalies,
		zThreshold:     zThreshold,
		logger:         logger,
	}
}

// Validate splits records into accepted and rejected. A record with any
// hard-rule violation is rejected; a record whose only finding is an
// anomaly flag is accepted with HasAnomalies set when anomalies are
// allowed, rejected otherwise.
func (v *Validator) Validate(records []standardize.Record, entity extract.EntityType) Outcome {
	anomalous := v.findAnomalies(records, entity)

	var out Outcome
	for i, rec := range records {
		reasons := hardViolations(rec, entity)

		isAnomaly := anomalous[i]
		if isAnomaly {
			out.Anomalies++
		}

		switch {
		case len(reasons) > 0:
			out.Rejected = append(out.Rejected, Rejection{Record: rec, Reasons: reasons})
		case isAnomaly && !v.allowAnomalies:
			out.Rejected = append(out.Rejected, Rejection{
				Record:  rec,
				Reasons: []string{fmt.Sprintf("anomalous %s value (z-score above %.1f)", primaryField(entity), v.zThreshold)},
			})
		default:
			if isAnomaly {
				rec.HasAnomalies = true
			}
			out.Accepted = append(out.Accepted, rec)
		}
	}

	if len(out.Rejected) > 0 || out.Anomalies > 0 {
		v.logger.Info("validation completed",
			slog.String("entity", string(entity)),
			slog.Int("accepted", len(out.Accepted)),
			slog.Int("rejected", len(out.Rejected)),
			slog.Int("anomalies", out.Anomalies))
	}
	return out
}

// hardViolations collects every schema, range and consistency violation.
func hardViolations(rec standardize.Record, entity extract.EntityType) []string {
	var reasons []string
	add := func(format string, args ...interface{}) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if rec.Timestamp.IsZero() {
		add("timestamp: required field missing")
	}

	switch entity {
	case extract.EntityStock, extract.EntityForex, extract.EntityCrypto:
		if rec.Symbol == "" {
			add("symbol: required field missing")
		}
		if entity == extract.EntityCrypto && rec.Exchange == "" {
			add("exchange: required field missing")
		}
		reasons = append(reasons, priceViolations(rec, entity)...)

	case extract.EntityEconomic:
		if rec.SeriesID == "" {
			add("series_id: required field missing")
		}
		if !rec.Value.Valid {
			add("value: required field missing")
		}

	case extract.EntityWeather:
		reasons = append(reasons, weatherViolations(rec)...)
	}
	return reasons
}

func priceViolations(rec standardize.Record, entity extract.EntityType) []string {
	var reasons []string
	add := func(format string, args ...interface{}) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	min, max := decimal.Zero, decimal.New(1_000_000, 0)
	if entity == extract.EntityForex {
		// Exchange rates live in a much narrower band.
		min, max = decimal.New(1, -4), decimal.New(1000, 0)
	}

	fields := []struct {
		name string
		val  decimal.NullDecimal
	}{
		{"open", rec.Open}, {"high", rec.High}, {"low", rec.Low}, {"close", rec.Close},
	}
	for _, f := range fields {
		if !f.val.Valid {
			add("%s: required field missing", f.name)
			continue
		}
		if f.val.Decimal.LessThan(min) || f.val.Decimal.GreaterThan(max) {
			add("%s %s outside range [%s, %s]", f.name, f.val.Decimal, min, max)
		}
	}

	// Volume is optional for forex; Twelve Data omits it on some pairs.
	if entity != extract.EntityForex {
		if !rec.Volume.Valid {
			add("volume: required field missing")
		} else if rec.Volume.Decimal.IsNegative() {
			add("volume %s is negative", rec.Volume.Decimal)
		}
	}

	if rec.High.Valid && rec.Low.Valid && rec.High.Decimal.LessThan(rec.Low.Decimal) {
		add("high < low")
	}
	if rec.High.Valid && rec.Open.Valid && rec.High.Decimal.LessThan(rec.Open.Decimal) {
		add("high < open")
	}
	if rec.High.Valid && rec.Close.Valid && rec.High.Decimal.LessThan(rec.Close.Decimal) {
		add("high < close")
	}
	if rec.Low.Valid && rec.Open.Valid && rec.Low.Decimal.GreaterThan(rec.Open.Decimal) {
		add("low > open")
	}
	if rec.Low.Valid && rec.Close.Valid && rec.Low.Decimal.GreaterThan(rec.Close.Decimal) {
		add("low > close")
	}
	return reasons
}

func weatherViolations(rec standardize.Record) []string {
	var reasons []string
	add := func(format string, args ...interface{}) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if rec.Location == "" {
		add("location: required field missing")
	}

	checks := []struct {
		name     string
		val      decimal.NullDecimal
		min, max string
		required bool
	}{
		{"temperature", rec.Temperature, "-100", "100", true},
		{"humidity", rec.Humidity, "0", "100", true},
		{"pressure", rec.Pressure, "800", "1100", true},
		{"wind_speed", rec.WindSpeed, "0", "150", true},
		{"latitude", rec.Latitude, "-90", "90", false},
		{"longitude", rec.Longitude, "-180", "180", false},
	}
	for _, c := range checks {
		if !c.val.Valid {
			if c.required {
				add("%s: required field missing", c.name)
			}
			continue
		}
		min := decimal.RequireFromString(c.min)
		max := decimal.RequireFromString(c.max)
		if c.val.Decimal.LessThan(min) || c.val.Decimal.GreaterThan(max) {
			add("%s %s outside range [%s, %s]", c.name, c.val.Decimal, c.min, c.max)
		}
	}
	return reasons
}

// primaryField names the value the anomaly check watches per entity.
func primaryField(entity extract.EntityType) string {
	switch entity {
	case extract.EntityEconomic:
		return "value"
	case extract.EntityWeather:
		return "temperature"
	default:
		return "close"
	}
}

func primaryValue(rec standardize.Record, entity extract.EntityType) (float64, bool) {
	var d decimal.NullDecimal
	switch entity {
	case extract.EntityEconomic:
		d = rec.Value
	case extract.EntityWeather:
		d = rec.Temperature
	default:
		d = rec.Close
	}
	if !d.Valid {
		return 0, false
	}
	return d.Decimal.InexactFloat64(), true
}

// findAnomalies flags records whose primary value deviates from the
// rolling baseline of preceding observations in the same series by more
// than the configured z-score. Records arrive timestamp-ordered from the
// standardizer, so "preceding" is positional.
func (v *Validator) findAnomalies(records []standardize.Record, entity extract.EntityType) []bool {
	flags := make([]bool, len(records))
	if v.zThreshold <= 0 {
		return flags
	}

	history := make(map[string][]float64)
	for i, rec := range records {
		val, ok := primaryValue(rec, entity)
		if !ok {
			continue
		}
		series := seriesKey(rec, entity)
		prior := history[series]

		if len(prior) >= minBaseline {
			mean, stddev := meanStddev(prior)
			if stddev > 0 && math.Abs(val-mean)/stddev > v.zThreshold {
				flags[i] = true
			}
		}

		prior = append(prior, val)
		if len(prior) > baselineWindow {
			prior = prior[len(prior)-baselineWindow:]
		}
		history[series] = prior
	}
	return flags
}

func seriesKey(rec standardize.Record, entity extract.EntityType) string {
	switch entity {
	case extract.EntityEconomic:
		return rec.SeriesID
	case extract.EntityWeather:
		return rec.Location
	default:
		return rec.Symbol
	}
}

func meanStddev(values []float64) (float64, float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / n)
}
