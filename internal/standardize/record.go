// Package standardize converts raw source records into the canonical
// record shape: canonical field names, UTC timestamps, metric units,
// fixed decimal precision per field class. Malformed fields are nulled
// and flagged, never dropped; accept/reject is the validator's call.
package standardize

import (
	"time"

	"github.com/shopspring/decimal"

	"mdetl/internal/extract"
)

// Decimal places per field class. Round-half-even everywhere so
// repeated runs reproduce byte-identical values.
const (
	PrecisionFX          = 6
	PrecisionPrice       = 4
	PrecisionTemperature = 2
	PrecisionWeather     = 2
)

// Record is the canonical post-standardization shape shared by every
// entity type. Unused fields stay at their zero value; the validator's
// per-entity schema decides which fields are required.
type Record struct {
	Entity extract.EntityType
	Source string

	// Identity. Symbol for stock/crypto, the collapsed pair (EURUSD) for
	// forex, SeriesID for economic, Location for weather.
	Symbol   string
	Exchange string
	SeriesID string
	Location string

	Latitude  decimal.NullDecimal
	Longitude decimal.NullDecimal

	// Timestamp is always UTC after standardization.
	Timestamp time.Time

	Open   decimal.NullDecimal
	High   decimal.NullDecimal
	Low    decimal.NullDecimal
	Close  decimal.NullDecimal
	Volume decimal.NullDecimal

	// Value holds the observation for economic series.
	Value decimal.NullDecimal

	Temperature decimal.NullDecimal
	Humidity    decimal.NullDecimal
	Pressure    decimal.NullDecimal
	WindSpeed   decimal.NullDecimal
	Condition   string

	// Currency tags monetary fields after reporting-currency conversion.
	Currency string

	// Flags lists fields nulled during coercion, as "field: reason".
	Flags []string

	HasAnomalies bool

	ExtractedAt    time.Time
	StandardizedAt time.Time
}

// Key returns the record's natural identity used for deduplication and
// as the loader's upsert conflict target.
func (r Record) Key() string {
	switch r.Entity {
	case extract.EntityEconomic:
		return r.SeriesID + "|" + r.Timestamp.Format(time.RFC3339)
	case extract.EntityWeather:
		return r.Location + "|" + r.Timestamp.Format(time.RFC3339)
	case extract.EntityCrypto:
		return r.Symbol + "|" + r.Exchange + "|" + r.Timestamp.Format(time.RFC3339)
	default:
		return r.Symbol + "|" + r.Timestamp.Format(time.RFC3339)
	}
}

// flag records a nulled field with its reason.
func (r *Record) flag(field, reason string) {
	r.Flags = append(r.Flags, field+": "+reason)
}
