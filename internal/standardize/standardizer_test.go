package standardize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdetl/internal/extract"
)

func newStandardizer() *Standardizer {
	return New("USD", DefaultRates(), nil, nil)
}

func rawStock(fields map[string]interface{}) extract.RawRecord {
	return extract.RawRecord{
		Source:      "twelve_data",
		Fields:      fields,
		ExtractedAt: time.Now().UTC(),
	}
}

func TestStandardizeStockRecord(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{rawStock(map[string]interface{}{
		"datetime": "2024-06-03",
		"symbol":   "aapl.us",
		"open":     "194.6412",
		"high":     "195.32",
		"low":      "193.03",
		"close":    "194.03",
		"volume":   "50080500",
		"currency": "USD",
		"exchange": "NASDAQ",
	})}, extract.EntityStock)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, extract.EntityStock, rec.Entity)
	assert.Equal(t, "AAPL", rec.Symbol, "exchange suffix stripped, uppercased")
	assert.Equal(t, "NASDAQ", rec.Exchange)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	require.True(t, rec.Open.Valid)
	assert.True(t, rec.Open.Decimal.Equal(decimal.RequireFromString("194.6412")))
	require.True(t, rec.Volume.Valid)
	assert.True(t, rec.Volume.Decimal.Equal(decimal.NewFromInt(50080500)))
	assert.Empty(t, rec.Flags)
	assert.False(t, rec.StandardizedAt.IsZero())
}

func TestStandardizeNullsAndFlagsBadFields(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{rawStock(map[string]interface{}{
		"datetime": "2024-06-03",
		"symbol":   "AAPL",
		"open":     "not-a-number",
		"close":    "194.03",
	})}, extract.EntityStock)

	require.Len(t, records, 1, "malformed fields never drop the record")
	rec := records[0]
	assert.False(t, rec.Open.Valid)
	assert.True(t, rec.Close.Valid)
	require.Len(t, rec.Flags, 1)
	assert.Contains(t, rec.Flags[0], "open")
}

func TestStandardizeConvertsSourceLocalTimestamps(t *testing.T) {
	s := New("USD", nil, map[string]string{"twelve_data": "America/New_York"}, nil)
	records := s.Standardize([]extract.RawRecord{rawStock(map[string]interface{}{
		"datetime": "2024-06-03 09:30:00",
		"symbol":   "AAPL",
		"close":    "194.03",
	})}, extract.EntityStock)

	require.Len(t, records, 1)
	// 09:30 Eastern is 13:30 UTC during DST.
	assert.Equal(t, time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC), records[0].Timestamp)
}

func TestStandardizeRecordTimezoneFieldWins(t *testing.T) {
	s := New("USD", nil, map[string]string{"twelve_data": "Asia/Tokyo"}, nil)
	records := s.Standardize([]extract.RawRecord{rawStock(map[string]interface{}{
		"datetime": "2024-06-03 09:30:00",
		"timezone": "America/New_York",
		"symbol":   "AAPL",
	})}, extract.EntityStock)

	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC), records[0].Timestamp)
}

func TestStandardizeForexPrecisionAndSymbol(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{{
		Source: "twelve_data",
		Fields: map[string]interface{}{
			"datetime": "2024-06-03",
			"symbol":   "EUR/USD",
			"open":     "1.08123456789",
			"close":    "1.0850005",
		},
	}}, extract.EntityForex)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "EURUSD", rec.Symbol, "pair separator collapsed")
	assert.True(t, rec.Open.Decimal.Equal(decimal.RequireFromString("1.081235")), "six decimals for FX, got %s", rec.Open.Decimal)
	// Half-even: 1.0850005 rounds down to the even digit.
	assert.True(t, rec.Close.Decimal.Equal(decimal.RequireFromString("1.085")), "got %s", rec.Close.Decimal)
}

func TestStandardizeConvertsToReportingCurrency(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{rawStock(map[string]interface{}{
		"datetime": "2024-06-03",
		"symbol":   "SAP",
		"close":    "100",
		"currency": "EUR",
	})}, extract.EntityStock)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "USD", rec.Currency)
	// 100 EUR at 0.85 EUR/USD.
	assert.True(t, rec.Close.Decimal.Equal(decimal.RequireFromString("117.6471")), "got %s", rec.Close.Decimal)
}

func TestStandardizeUnknownCurrencyFlagsNotDrops(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{rawStock(map[string]interface{}{
		"datetime": "2024-06-03",
		"symbol":   "X",
		"close":    "100",
		"currency": "XYZ",
	})}, extract.EntityStock)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "XYZ", rec.Currency, "original tag kept when no rate exists")
	require.NotEmpty(t, rec.Flags)
	assert.Contains(t, rec.Flags[0], "currency")
}

func TestStandardizeEconomicMissingObservation(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{
		{Source: "fred", Fields: map[string]interface{}{
			"series_id": "gdp",
			"date":      "2024-01-01",
			"value":     "27000.5",
		}},
		{Source: "fred", Fields: map[string]interface{}{
			"series_id": "gdp",
			"date":      "2024-02-01",
			"value":     ".",
		}},
	}, extract.EntityEconomic)

	require.Len(t, records, 2)
	assert.Equal(t, "GDP", records[0].SeriesID)
	assert.True(t, records[0].Value.Valid)
	assert.False(t, records[1].Value.Valid)
	require.Len(t, records[1].Flags, 1)
	assert.Contains(t, records[1].Flags[0], "missing observation")
}

func TestStandardizeWeatherImperialUnits(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{{
		Source: "openweather",
		Fields: map[string]interface{}{
			"location":          "New York",
			"latitude":          40.7128,
			"longitude":         -74.006,
			"timestamp":         int64(1717416000),
			"temperature":       68.0,
			"humidity":          55.0,
			"pressure":          1012.0,
			"wind_speed":        10.0,
			"weather_condition": "Clear",
			"units":             "imperial",
		},
	}}, extract.EntityWeather)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "New York", rec.Location)
	assert.Equal(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.True(t, rec.Temperature.Decimal.Equal(decimal.RequireFromString("20")), "68F is 20C, got %s", rec.Temperature.Decimal)
	assert.True(t, rec.WindSpeed.Decimal.Equal(decimal.RequireFromString("4.47")), "10mph in m/s, got %s", rec.WindSpeed.Decimal)
	assert.True(t, rec.Pressure.Decimal.Equal(decimal.RequireFromString("1012")))
}

func TestStandardizeWeatherStandardUnits(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{{
		Source: "openweather",
		Fields: map[string]interface{}{
			"location":    "Oslo",
			"timestamp":   int64(1717416000),
			"temperature": 288.15,
			"units":       "standard",
		},
	}}, extract.EntityWeather)

	require.Len(t, records, 1)
	assert.True(t, records[0].Temperature.Decimal.Equal(decimal.RequireFromString("15")), "288.15K is 15C")
}

func TestStandardizeSortsAndDeduplicates(t *testing.T) {
	s := newStandardizer()
	records := s.Standardize([]extract.RawRecord{
		rawStock(map[string]interface{}{"datetime": "2024-06-04", "symbol": "AAPL", "close": "195.00"}),
		rawStock(map[string]interface{}{"datetime": "2024-06-03", "symbol": "AAPL", "close": "194.00"}),
		rawStock(map[string]interface{}{"datetime": "2024-06-03", "symbol": "AAPL", "close": "194.50"}),
	}, extract.EntityStock)

	require.Len(t, records, 2, "same key keeps the last occurrence")
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), records[0].Timestamp)
	assert.True(t, records[0].Close.Decimal.Equal(decimal.RequireFromString("194.50")))
	assert.Equal(t, time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), records[1].Timestamp)
}

func TestStandardizeEmptyInput(t *testing.T) {
	s := newStandardizer()
	assert.Nil(t, s.Standardize(nil, extract.EntityStock))
}

func TestRecordKeysPerEntity(t *testing.T) {
	ts := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	stock := Record{Entity: extract.EntityStock, Symbol: "AAPL", Timestamp: ts}
	crypto := Record{Entity: extract.EntityCrypto, Symbol: "BTCUSD", Exchange: "BINANCE", Timestamp: ts}
	econ := Record{Entity: extract.EntityEconomic, SeriesID: "GDP", Timestamp: ts}
	weather := Record{Entity: extract.EntityWeather, Location: "London", Timestamp: ts}

	keys := map[string]bool{}
	for _, r := range []Record{stock, crypto, econ, weather} {
		keys[r.Key()] = true
	}
	assert.Len(t, keys, 4, "entity keys must not collide")

	other := Record{Entity: extract.EntityCrypto, Symbol: "BTCUSD", Exchange: "COINBASE", Timestamp: ts}
	assert.NotEqual(t, crypto.Key(), other.Key(), "exchange participates in the crypto key")
}
