package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		entity  EntityType
		params  Params
		wantErr bool
	}{
		{"stock with symbols", EntityStock, Params{Symbols: []string{"AAPL"}}, false},
		{"stock without symbols", EntityStock, Params{}, true},
		{"forex needs pairs not symbols", EntityForex, Params{Symbols: []string{"EUR/USD"}}, true},
		{"forex with pairs", EntityForex, Params{Pairs: []string{"EUR/USD"}}, false},
		{"economic with series", EntityEconomic, Params{SeriesIDs: []string{"GDP"}}, false},
		{"weather with location", EntityWeather, Params{Locations: []Location{{Name: "London"}}}, false},
		{"unknown entity", EntityType("bond"), Params{Symbols: []string{"X"}}, true},
		{
			"inverted window",
			EntityStock,
			Params{
				Symbols: []string{"AAPL"},
				Start:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
				End:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate(tt.entity)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTwelveDataExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "UTC", r.URL.Query().Get("timezone"))
		symbol := r.URL.Query().Get("symbol")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"meta": {"symbol": %q, "interval": "1day", "currency": "USD", "exchange": "NASDAQ", "exchange_timezone": "America/New_York"},
			"values": [
				{"datetime": "2024-06-03", "open": "194.64", "high": "195.32", "low": "193.03", "close": "194.03", "volume": "50080500"},
				{"datetime": "2024-06-04", "open": "194.64", "high": "195.32", "low": "193.03", "close": "194.35", "volume": "47471400"}
			],
			"status": "ok"
		}`, symbol)
	}))
	defer server.Close()

	ex, err := NewTwelveData(EntityStock, "test-key", newTestClient(server, twelveDataBodyCheck))
	require.NoError(t, err)
	assert.Equal(t, SourceTwelveData, ex.Source())
	assert.Equal(t, EntityStock, ex.EntityType())

	it, err := ex.Extract(context.Background(), Params{Symbols: []string{"AAPL", "MSFT"}})
	require.NoError(t, err)

	records, err := it.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 4, "two values per symbol")

	first := records[0]
	assert.Equal(t, SourceTwelveData, first.Source)
	assert.Equal(t, "AAPL", first.Fields["symbol"])
	assert.Equal(t, "USD", first.Fields["currency"])
	assert.Equal(t, "NASDAQ", first.Fields["exchange"])
	assert.Equal(t, "194.64", first.Fields["open"], "values stay raw strings until coercion")
	assert.False(t, first.ExtractedAt.IsZero())
	assert.Equal(t, "MSFT", records[2].Fields["symbol"])
}

func TestTwelveDataRejectsWrongEntity(t *testing.T) {
	_, err := NewTwelveData(EntityWeather, "k", nil)
	assert.Error(t, err)
}

func TestTwelveDataFailureKeepsEarlierPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("symbol") == "BAD" {
			w.Write([]byte(`{"code":404,"status":"error","message":"symbol not found"}`))
			return
		}
		w.Write([]byte(`{"meta":{"symbol":"AAPL"},"values":[{"datetime":"2024-06-03","close":"194.03"}],"status":"ok"}`))
	}))
	defer server.Close()

	ex, err := NewTwelveData(EntityStock, "k", newTestClient(server, twelveDataBodyCheck))
	require.NoError(t, err)

	it, err := ex.Extract(context.Background(), Params{Symbols: []string{"AAPL", "BAD", "MSFT"}})
	require.NoError(t, err)

	var collected []RawRecord
	page1, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	collected = append(collected, page1...)

	_, _, err = it.Next(context.Background())
	require.Error(t, err, "second instrument fails")

	// The failure finishes the iterator but the first page survives.
	assert.Len(t, collected, 1)
	_, ok, err = it.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFREDExtractPaginates(t *testing.T) {
	type obs struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	}
	all := []obs{
		{"2024-01-01", "27000.5"},
		{"2024-02-01", "."},
		{"2024-03-01", "27400.2"},
	}
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("file_type"))

		offset := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
		end := offset + 2
		if end > len(all) {
			end = len(all)
		}
		page := all[offset:end]

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":        len(all),
			"offset":       offset,
			"limit":        2,
			"observations": page,
		})
	}))
	defer server.Close()

	ex := NewFRED("test-key", newTestClient(server, nil))
	it, err := ex.Extract(context.Background(), Params{SeriesIDs: []string{"GDP"}, PageSize: 2})
	require.NoError(t, err)

	records, err := it.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Len(t, requests, 2, "count=3 with limit=2 takes two pages")

	assert.Equal(t, "GDP", records[0].Fields["series_id"])
	assert.Equal(t, "27000.5", records[0].Fields["value"])
	assert.Equal(t, ".", records[1].Fields["value"], "missing observations pass through for the standardizer")
}

func TestFREDExtractMultipleSeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"count":1,"offset":0,"limit":1000,"observations":[{"date":"2024-01-01","value":"1.0","realtime_start":"2024-01-01","realtime_end":"2024-01-01"}]}`)
	}))
	defer server.Close()

	ex := NewFRED("k", newTestClient(server, nil))
	it, err := ex.Extract(context.Background(), Params{SeriesIDs: []string{"GDP", "UNRATE"}})
	require.NoError(t, err)

	records, err := it.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "GDP", records[0].Fields["series_id"])
	assert.Equal(t, "UNRATE", records[1].Fields["series_id"])
}

func TestOpenWeatherExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, "London", r.URL.Query().Get("q"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"coord": {"lon": -0.1257, "lat": 51.5085},
			"weather": [{"main": "Clouds", "description": "overcast clouds"}],
			"main": {"temp": 17.3, "humidity": 72, "pressure": 1012},
			"wind": {"speed": 4.6},
			"dt": 1717416000,
			"name": "London",
			"cod": 200
		}`))
	}))
	defer server.Close()

	ex := NewOpenWeather("test-key", "metric", newTestClient(server, openWeatherBodyCheck))
	it, err := ex.Extract(context.Background(), Params{Locations: []Location{{Name: "London"}}})
	require.NoError(t, err)

	records, err := it.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	fields := records[0].Fields
	assert.Equal(t, "London", fields["location"])
	assert.Equal(t, 51.5085, fields["latitude"])
	assert.Equal(t, -0.1257, fields["longitude"])
	assert.Equal(t, int64(1717416000), fields["timestamp"])
	assert.Equal(t, 17.3, fields["temperature"])
	assert.Equal(t, 72.0, fields["humidity"])
	assert.Equal(t, "Clouds", fields["weather_condition"])
	assert.Equal(t, "metric", fields["units"])
}

func TestOpenWeatherQueriesByCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("q"))
		assert.Equal(t, "35.6895", r.URL.Query().Get("lat"))
		assert.Equal(t, "139.6917", r.URL.Query().Get("lon"))
		w.Write([]byte(`{"coord":{"lon":139.6917,"lat":35.6895},"main":{"temp":25.1,"humidity":60,"pressure":1008},"wind":{"speed":2.1},"weather":[{"main":"Clear"}],"dt":1717416000,"name":"Tokyo","cod":200}`))
	}))
	defer server.Close()

	ex := NewOpenWeather("k", "", newTestClient(server, openWeatherBodyCheck))
	it, err := ex.Extract(context.Background(), Params{Locations: []Location{{Latitude: 35.6895, Longitude: 139.6917}}})
	require.NoError(t, err)

	records, err := it.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Tokyo", records[0].Fields["location"], "name falls back to the API response")
}

func TestIteratorDoneAfterExhaustion(t *testing.T) {
	pages := [][]RawRecord{
		{{Source: "a"}},
		{{Source: "b"}},
	}
	idx := 0
	it := NewIterator(func(ctx context.Context) ([]RawRecord, bool, error) {
		page := pages[idx]
		idx++
		return page, idx < len(pages), nil
	})

	total := 0
	for {
		page, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		total += len(page)
		if !ok {
			break
		}
	}
	assert.Equal(t, 2, total)

	_, ok, err := it.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok, "exhausted iterator stays done")
}

func TestIteratorStopsOnContextCancel(t *testing.T) {
	it := NewIterator(func(ctx context.Context) ([]RawRecord, bool, error) {
		return []RawRecord{{Source: "x"}}, true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	_, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cancel()
	_, _, err = it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
