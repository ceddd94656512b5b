package extract

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	pipeerr "mdetl/internal/errors"
)

// SourceFRED identifies the St. Louis Fed economic data API.
const SourceFRED = "fred"

// fredDefaultLimit is the observations page size when Params.PageSize
// is unset. FRED caps a single response at 100000 rows; 1000 keeps
// pages small enough to validate independently.
const fredDefaultLimit = 1000

// FREDExtractor pulls economic indicator observations, paginated with
// offset/limit per series.
type FREDExtractor struct {
	client *Client
	apiKey string
}

// NewFRED creates the economic indicator extractor.
func NewFRED(apiKey string, client *Client) *FREDExtractor {
	return &FREDExtractor{client: client, apiKey: apiKey}
}

func (e *FREDExtractor) Source() string { return SourceFRED }

func (e *FREDExtractor) EntityType() EntityType { return EntityEconomic }

// Extract yields observation pages series by series. Within one series
// pages advance by offset until the reported count is covered.
func (e *FREDExtractor) Extract(ctx context.Context, p Params) (*Iterator, error) {
	if err := p.Validate(EntityEconomic); err != nil {
		return nil, pipeerr.NewPermanent(SourceFRED, "invalid extraction parameters", err)
	}

	limit := p.PageSize
	if limit <= 0 {
		limit = fredDefaultLimit
	}

	seriesIdx := 0
	offset := 0
	return NewIterator(func(ctx context.Context) ([]RawRecord, bool, error) {
		if seriesIdx >= len(p.SeriesIDs) {
			return nil, false, nil
		}
		seriesID := p.SeriesIDs[seriesIdx]

		records, total, err := e.fetchObservations(ctx, seriesID, p, offset, limit)
		if err != nil {
			return nil, false, err
		}

		offset += limit
		if offset >= total {
			seriesIdx++
			offset = 0
		}
		more := seriesIdx < len(p.SeriesIDs)
		return records, more, nil
	}), nil
}

type fredObservationsResponse struct {
	Count        int `json:"count"`
	Offset       int `json:"offset"`
	Limit        int `json:"limit"`
	Observations []struct {
		RealtimeStart string `json:"realtime_start"`
		RealtimeEnd   string `json:"realtime_end"`
		Date          string `json:"date"`
		Value         string `json:"value"`
	} `json:"observations"`
}

func (e *FREDExtractor) fetchObservations(ctx context.Context, seriesID string, p Params, offset, limit int) ([]RawRecord, int, error) {
	query := url.Values{}
	query.Set("series_id", seriesID)
	query.Set("api_key", e.apiKey)
	query.Set("file_type", "json")
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	if !p.Start.IsZero() {
		query.Set("observation_start", p.Start.Format("2006-01-02"))
	}
	if !p.End.IsZero() {
		query.Set("observation_end", p.End.Format("2006-01-02"))
	}

	var resp fredObservationsResponse
	if err := e.client.GetJSON(ctx, "/series/observations", query, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Observations == nil {
		return nil, 0, pipeerr.NewExtraction(SourceFRED, fmt.Sprintf("no observations returned for series %s", seriesID), nil)
	}

	now := time.Now().UTC()
	records := make([]RawRecord, 0, len(resp.Observations))
	for _, obs := range resp.Observations {
		records = append(records, RawRecord{
			Source: SourceFRED,
			Fields: map[string]interface{}{
				"series_id":      seriesID,
				"date":           obs.Date,
				"value":          obs.Value, // "." marks a missing observation
				"realtime_start": obs.RealtimeStart,
				"realtime_end":   obs.RealtimeEnd,
			},
			ExtractedAt: now,
		})
	}
	return records, resp.Count, nil
}
