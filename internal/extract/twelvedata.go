package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	pipeerr "mdetl/internal/errors"
)

// SourceTwelveData is the source identifier shared by the stock, forex
// and crypto variants; they share one rate-limit quota.
const SourceTwelveData = "twelve_data"

const defaultInterval = "1day"

// TwelveDataExtractor pulls OHLCV time series from the Twelve Data API.
// One extractor instance serves one entity type; the instrument list
// comes from the pull parameters.
type TwelveDataExtractor struct {
	client *Client
	apiKey string
	entity EntityType
}

// NewTwelveData creates an extractor for stocks, forex or crypto.
func NewTwelveData(entity EntityType, apiKey string, client *Client) (*TwelveDataExtractor, error) {
	switch entity {
	case EntityStock, EntityForex, EntityCrypto:
	default:
		return nil, fmt.Errorf("twelve_data does not serve entity type %q", entity)
	}
	return &TwelveDataExtractor{client: client, apiKey: apiKey, entity: entity}, nil
}

func (e *TwelveDataExtractor) Source() string { return SourceTwelveData }

func (e *TwelveDataExtractor) EntityType() EntityType { return e.entity }

// Extract yields one page per instrument so a failure on instrument N
// does not discard pages already yielded for instruments 1..N-1.
func (e *TwelveDataExtractor) Extract(ctx context.Context, p Params) (*Iterator, error) {
	if err := p.Validate(e.entity); err != nil {
		return nil, pipeerr.NewPermanent(SourceTwelveData, "invalid extraction parameters", err)
	}

	instruments := p.Symbols
	if e.entity == EntityForex {
		instruments = p.Pairs
	}

	idx := 0
	return NewIterator(func(ctx context.Context) ([]RawRecord, bool, error) {
		if idx >= len(instruments) {
			return nil, false, nil
		}
		symbol := instruments[idx]
		idx++

		records, err := e.fetchSeries(ctx, symbol, p)
		if err != nil {
			return nil, false, err
		}
		return records, idx < len(instruments), nil
	}), nil
}

// tdSeriesResponse mirrors the time_series envelope. Values arrive as
// strings; coercion is the standardizer's job.
type tdSeriesResponse struct {
	Meta struct {
		Symbol           string `json:"symbol"`
		Interval         string `json:"interval"`
		Currency         string `json:"currency"`
		CurrencyBase     string `json:"currency_base"`
		CurrencyQuote    string `json:"currency_quote"`
		Exchange         string `json:"exchange"`
		ExchangeTimezone string `json:"exchange_timezone"`
	} `json:"meta"`
	Values []map[string]interface{} `json:"values"`
	Status string                   `json:"status"`
}

func (e *TwelveDataExtractor) fetchSeries(ctx context.Context, symbol string, p Params) ([]RawRecord, error) {
	interval := p.Interval
	if interval == "" {
		interval = defaultInterval
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("format", "JSON")
	query.Set("apikey", e.apiKey)
	query.Set("timezone", "UTC")
	if !p.Start.IsZero() {
		query.Set("start_date", p.Start.Format("2006-01-02"))
	}
	if !p.End.IsZero() {
		query.Set("end_date", p.End.Format("2006-01-02"))
	}
	if p.PageSize > 0 {
		query.Set("outputsize", fmt.Sprintf("%d", p.PageSize))
	}

	var resp tdSeriesResponse
	if err := e.client.GetJSON(ctx, "/time_series", query, &resp); err != nil {
		return nil, err
	}
	if resp.Values == nil {
		return nil, pipeerr.NewExtraction(SourceTwelveData, fmt.Sprintf("no time series values for %s", symbol), nil)
	}

	currency := resp.Meta.Currency
	if currency == "" && resp.Meta.CurrencyQuote != "" {
		currency = resp.Meta.CurrencyQuote
	}

	now := time.Now().UTC()
	records := make([]RawRecord, 0, len(resp.Values))
	for _, v := range resp.Values {
		fields := make(map[string]interface{}, len(v)+4)
		for k, val := range v {
			fields[k] = val
		}
		fields["symbol"] = symbol
		if currency != "" {
			fields["currency"] = currency
		}
		if resp.Meta.Exchange != "" {
			fields["exchange"] = resp.Meta.Exchange
		}
		if resp.Meta.ExchangeTimezone != "" {
			fields["timezone"] = resp.Meta.ExchangeTimezone
		}
		records = append(records, RawRecord{
			Source:      SourceTwelveData,
			Fields:      fields,
			ExtractedAt: now,
		})
	}
	return records, nil
}

// twelveDataBodyCheck maps the in-body error envelope. Quota exhaustion
// arrives as code 429 inside an HTTP 200 response.
func twelveDataBodyCheck(body []byte) error {
	var envelope struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Not the error envelope; let normal decoding proceed.
		return nil
	}
	if envelope.Status != "error" && envelope.Code == 0 {
		return nil
	}
	switch envelope.Code {
	case 0, 200:
		return nil
	case 429:
		return pipeerr.NewTransient(SourceTwelveData, "rate limit exceeded: "+envelope.Message, nil)
	case 401, 403:
		return pipeerr.NewAuth(SourceTwelveData, envelope.Message)
	default:
		return pipeerr.NewExtraction(SourceTwelveData, fmt.Sprintf("API error %d: %s", envelope.Code, envelope.Message), nil)
	}
}
