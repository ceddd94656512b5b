package validate

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdetl/internal/extract"
	"mdetl/internal/standardize"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func candle(symbol string, day int, open, high, low, close string) standardize.Record {
	return standardize.Record{
		Entity:    extract.EntityForex,
		Symbol:    symbol,
		Timestamp: time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC),
		Open:      nd(open),
		High:      nd(high),
		Low:       nd(low),
		Close:     nd(close),
	}
}

func stockCandle(symbol string, day int, close string) standardize.Record {
	rec := candle(symbol, day, close, close, close, close)
	rec.Entity = extract.EntityStock
	rec.Volume = nd("1000")
	return rec
}

func TestValidateRejectsInvertedHighLow(t *testing.T) {
	v := New(true, 3.0, nil)
	records := []standardize.Record{
		candle("EURUSD", 1, "1.07", "1.08", "1.06", "1.075"),
		candle("EURUSD", 2, "1.06", "1.05", "1.08", "1.07"),
		candle("EURUSD", 3, "1.07", "1.09", "1.065", "1.085"),
	}

	out := v.Validate(records, extract.EntityForex)

	assert.Len(t, out.Accepted, 2)
	require.Len(t, out.Rejected, 1)
	assert.Equal(t, 2, out.Rejected[0].Record.Timestamp.Day())
	assert.Contains(t, out.Rejected[0].Reasons, "high < low")
}

func TestValidateCollectsAllViolations(t *testing.T) {
	v := New(true, 3.0, nil)
	rec := standardize.Record{
		Entity:    extract.EntityStock,
		Symbol:    "AAPL",
		Timestamp: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		Open:      nd("100"),
		High:      nd("95"),
		Low:       nd("98"),
		Close:     nd("99"),
		// Volume missing on purpose.
	}

	out := v.Validate([]standardize.Record{rec}, extract.EntityStock)

	require.Len(t, out.Rejected, 1)
	reasons := out.Rejected[0].Reasons
	assert.Contains(t, reasons, "volume: required field missing")
	assert.Contains(t, reasons, "high < low")
	assert.Contains(t, reasons, "high < open")
	assert.Contains(t, reasons, "high < close")
	assert.GreaterOrEqual(t, len(reasons), 4, "rejection reasons must be complete, not first-failure")
}

func TestValidateSchemaRequiredFields(t *testing.T) {
	v := New(true, 3.0, nil)

	t.Run("stock without symbol", func(t *testing.T) {
		rec := stockCandle("", 1, "100")
		out := v.Validate([]standardize.Record{rec}, extract.EntityStock)
		require.Len(t, out.Rejected, 1)
		assert.Contains(t, out.Rejected[0].Reasons, "symbol: required field missing")
	})

	t.Run("crypto without exchange", func(t *testing.T) {
		rec := stockCandle("BTCUSDT", 1, "60000")
		rec.Entity = extract.EntityCrypto
		out := v.Validate([]standardize.Record{rec}, extract.EntityCrypto)
		require.Len(t, out.Rejected, 1)
		assert.Contains(t, out.Rejected[0].Reasons, "exchange: required field missing")
	})

	t.Run("economic without value", func(t *testing.T) {
		rec := standardize.Record{
			Entity:    extract.EntityEconomic,
			SeriesID:  "GDP",
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		out := v.Validate([]standardize.Record{rec}, extract.EntityEconomic)
		require.Len(t, out.Rejected, 1)
		assert.Contains(t, out.Rejected[0].Reasons, "value: required field missing")
	})

	t.Run("zero timestamp", func(t *testing.T) {
		rec := stockCandle("AAPL", 1, "100")
		rec.Timestamp = time.Time{}
		out := v.Validate([]standardize.Record{rec}, extract.EntityStock)
		require.Len(t, out.Rejected, 1)
		assert.Contains(t, out.Rejected[0].Reasons, "timestamp: required field missing")
	})
}

func TestValidateForexRateRange(t *testing.T) {
	v := New(true, 3.0, nil)
	rec := candle("EURUSD", 1, "1500", "1500", "1500", "1500")

	out := v.Validate([]standardize.Record{rec}, extract.EntityForex)

	require.Len(t, out.Rejected, 1)
	assert.Contains(t, out.Rejected[0].Reasons[0], "outside range")
}

func TestValidateWeatherRanges(t *testing.T) {
	v := New(true, 3.0, nil)
	base := standardize.Record{
		Entity:      extract.EntityWeather,
		Location:    "London",
		Timestamp:   time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
		Temperature: nd("17.3"),
		Humidity:    nd("72"),
		Pressure:    nd("1012"),
		WindSpeed:   nd("4.6"),
		Latitude:    nd("51.5"),
		Longitude:   nd("-0.12"),
	}

	out := v.Validate([]standardize.Record{base}, extract.EntityWeather)
	assert.Len(t, out.Accepted, 1)
	assert.Empty(t, out.Rejected)

	bad := base
	bad.Humidity = nd("150")
	bad.Latitude = nd("95")
	out = v.Validate([]standardize.Record{bad}, extract.EntityWeather)
	require.Len(t, out.Rejected, 1)
	require.Len(t, out.Rejected[0].Reasons, 2)
	assert.Contains(t, out.Rejected[0].Reasons[0], "humidity")
	assert.Contains(t, out.Rejected[0].Reasons[1], "latitude")
}

func anomalySeries(symbol string) []standardize.Record {
	closes := []string{"100.0", "100.5", "99.5", "100.2", "99.8", "100.1", "150.0"}
	records := make([]standardize.Record, 0, len(closes))
	for i, c := range closes {
		records = append(records, stockCandle(symbol, i+1, c))
	}
	return records
}

func TestValidateAnomalyAcceptedWhenAllowed(t *testing.T) {
	v := New(true, 3.0, nil)
	out := v.Validate(anomalySeries("AAPL"), extract.EntityStock)

	assert.Len(t, out.Accepted, 7, "anomalies proceed to load when allowed")
	assert.Empty(t, out.Rejected)
	assert.Equal(t, 1, out.Anomalies)

	last := out.Accepted[len(out.Accepted)-1]
	assert.True(t, last.HasAnomalies)
	assert.False(t, out.Accepted[0].HasAnomalies)
}

func TestValidateAnomalyRejectedWhenDisallowed(t *testing.T) {
	v := New(false, 3.0, nil)
	out := v.Validate(anomalySeries("AAPL"), extract.EntityStock)

	assert.Len(t, out.Accepted, 6)
	require.Len(t, out.Rejected, 1)
	assert.Contains(t, out.Rejected[0].Reasons[0], "anomalous")
	assert.Equal(t, 1, out.Anomalies)
}

func TestValidateAnomalyBaselinePerSeries(t *testing.T) {
	v := New(true, 3.0, nil)
	// Interleave two symbols; MSFT's values sit far from AAPL's but are
	// normal for MSFT, so nothing should flag.
	var records []standardize.Record
	for i := 1; i <= 8; i++ {
		records = append(records, stockCandle("AAPL", i, "100.0"))
		records = append(records, stockCandle("MSFT", i, fmt.Sprintf("400.%d", i)))
	}

	out := v.Validate(records, extract.EntityStock)
	assert.Equal(t, 0, out.Anomalies, "baselines must not mix series")
	assert.Len(t, out.Accepted, 16)
}

func TestValidateZeroThresholdDisablesAnomalyCheck(t *testing.T) {
	v := New(false, 0, nil)
	out := v.Validate(anomalySeries("AAPL"), extract.EntityStock)
	assert.Len(t, out.Accepted, 7)
	assert.Equal(t, 0, out.Anomalies)
}

func TestValidateConservation(t *testing.T) {
	v := New(true, 3.0, nil)
	records := []standardize.Record{
		candle("EURUSD", 1, "1.07", "1.08", "1.06", "1.075"),
		candle("EURUSD", 2, "1.06", "1.05", "1.08", "1.07"),
		candle("", 3, "1.07", "1.09", "1.065", "1.085"),
	}

	out := v.Validate(records, extract.EntityForex)
	assert.Equal(t, len(records), len(out.Accepted)+len(out.Rejected),
		"every record lands in exactly one partition")
}
