// Package extract turns external API responses into uniform raw record
// streams. Each source variant composes the shared rate-limited,
// retrying HTTP client; downstream stages never see source wire formats.
package extract

import (
	"context"
	"fmt"
	"time"
)

// EntityType identifies which warehouse entity a pipeline feeds.
type EntityType string

const (
	EntityStock    EntityType = "stock"
	EntityForex    EntityType = "forex"
	EntityCrypto   EntityType = "crypto"
	EntityEconomic EntityType = "economic"
	EntityWeather  EntityType = "weather"
)

/// RawRecord is one source-shaped row: field name to raw value as the
// source reported it. Values are strings, numbers, or timestamps;
// coercion happens in the standardizer.
type RawRecord struct {
	Source      string
	Fields      map[string]interface{}
	ExtractedAt time.Time
}

// Location identifies a weather observation point.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Params constrains one extraction pull. Which fields matter depends on
// the entity type; Validate enforces the minimum per type.
type Params struct {
	Symbols   []string   // stocks, crypto
	Pairs     []string   // forex, formatted "EUR/USD"
	SeriesIDs []string   // economic indicator series
	Locations []Location // weather
	Start     time.Time
	End       time.Time
	Interval  string // e.g. "1day", "1h"
	// PageSize caps rows per request for paginated sources; 0 uses the
	// source default.
	PageSize int
}

// Validate checks that the parameters can drive a pull for the entity.
func (p Params) Validate(entity EntityType) error {
	switch entity {
	case EntityStock, EntityCrypto:
		if len(p.Symbols) == 0 {
			return fmt.Errorf("%s extraction requires at least one symbol", entity)
		}
	case EntityForex:
		if len(p.Pairs) == 0 {
			return fmt.Errorf("forex extraction requires at least one pair")
		}
	case EntityEconomic:
		if len(p.SeriesIDs) == 0 {
			return fmt.Errorf("economic extraction requires at least one series id")
		}
	case EntityWeather:
		if len(p.Locations) == 0 {
			return fmt.Errorf("weather extraction requires at least one location")
		}
	default:
		return fmt.Errorf("unknown entity type %q", entity)
	}
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		return fmt.Errorf("end %s precedes start %s", p.End.Format("2006-01-02"), p.Start.Format("2006-01-02"))
	}
	return nil
}

// Extractor is the uniform contract over concrete sources. Extract is
// idempotent: repeated pulls of the same window yield equivalent records
// and rely on the loader's upsert for deduplication.
type Extractor interface {
	Source() string
	EntityType() EntityType
	Extract(ctx context.Context, p Params) (*Iterator, error)
}

// PageFunc fetches the next page. It returns the page, whether more
// pages remain, and an error. A page may be empty with more=true.
type PageFunc func(ctx context.Context) (records []RawRecord, more bool, err error)

// Iterator yields raw records page by page so a mid-stream failure does
// not discard pages already handed to the caller.
type Iterator struct {
	next PageFunc
	done bool
}

// NewIterator wraps a page fetcher. Extractor implementations build
// their lazy streams with it.
func NewIterator(next PageFunc) *Iterator {
	return &Iterator{next: next}
}

// Next returns the next page. The boolean is false once the stream is
// exhausted; on error the iterator is finished and the error describes
// the failing page only.
func (it *Iterator) Next(ctx context.Context) ([]RawRecord, bool, error) {
	if it.done {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		it.done = true
		return nil, false, err
	}

	records, more, err := it.next(ctx)
	if err != nil {
		it.done = true
		return nil, false, err
	}
	if !more {
		it.done = true
	}
	return records, more || len(records) > 0, nil
}

// Drain collects every remaining page. Used by tests and small pulls.
func (it *Iterator) Drain(ctx context.Context) ([]RawRecord, error) {
	var all []RawRecord
	for {
		page, ok, err := it.Next(ctx)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if !ok {
			return all, nil
		}
	}
}
