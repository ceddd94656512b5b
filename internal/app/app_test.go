package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdetl/internal/config"
	"mdetl/internal/extract"
)

func testApp() *Application {
	return &Application{
		Config: &config.Config{
			Jobs: config.JobsConfig{
				Symbols:       []string{"AAPL", "MSFT"},
				Pairs:         []string{"EUR/USD"},
				CryptoSymbols: []string{"BTC/USD"},
				SeriesIDs:     []string{"GDP"},
				Locations:     []string{"London", "Tokyo"},
				LookbackDays:  7,
				Interval:      "1day",
			},
		},
	}
}

func TestParamsFor(t *testing.T) {
	a := testApp()

	t.Run("stock", func(t *testing.T) {
		p := a.paramsFor(extract.EntityStock)
		assert.Equal(t, []string{"AAPL", "MSFT"}, p.Symbols)
		assert.Empty(t, p.Pairs)
		assert.Equal(t, "1day", p.Interval)
		require.NoError(t, p.Validate(extract.EntityStock))
	})

	t.Run("crypto uses crypto symbols", func(t *testing.T) {
		p := a.paramsFor(extract.EntityCrypto)
		assert.Equal(t, []string{"BTC/USD"}, p.Symbols)
	})

	t.Run("forex", func(t *testing.T) {
		p := a.paramsFor(extract.EntityForex)
		assert.Equal(t, []string{"EUR/USD"}, p.Pairs)
		require.NoError(t, p.Validate(extract.EntityForex))
	})

	t.Run("economic", func(t *testing.T) {
		p := a.paramsFor(extract.EntityEconomic)
		assert.Equal(t, []string{"GDP"}, p.SeriesIDs)
	})

	t.Run("weather", func(t *testing.T) {
		p := a.paramsFor(extract.EntityWeather)
		require.Len(t, p.Locations, 2)
		assert.Equal(t, "London", p.Locations[0].Name)
	})

	t.Run("lookback window", func(t *testing.T) {
		p := a.paramsFor(extract.EntityStock)
		assert.WithinDuration(t, time.Now().UTC(), p.End, time.Minute)
		assert.WithinDuration(t, p.End.AddDate(0, 0, -7), p.Start, time.Minute)
	})
}
