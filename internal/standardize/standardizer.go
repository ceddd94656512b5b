package standardize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mdetl/internal/extract"
)

// fieldAliases maps canonical field names to the raw names sources use
// for them. First present alias wins.
var fieldAliases = map[string][]string{
	"timestamp":   {"timestamp", "datetime", "date_time", "time", "date"},
	"open":        {"open", "open_price", "opening_price"},
	"high":        {"high", "high_price", "highest_price"},
	"low":         {"low", "low_price", "lowest_price"},
	"close":       {"close", "close_price", "closing_price", "price"},
	"volume":      {"volume", "trade_volume", "vol"},
	"symbol":      {"symbol", "ticker", "instrument", "pair"},
	"exchange":    {"exchange", "venue", "market"},
	"value":       {"value", "observation", "measure"},
	"series_id":   {"series_id", "series_code", "indicator_id"},
	"location":    {"location", "city", "place"},
	"latitude":    {"latitude", "lat"},
	"longitude":   {"longitude", "lon", "lng"},
	"temperature": {"temperature", "temp"},
	"humidity":    {"humidity", "relative_humidity"},
	"pressure":    {"pressure", "air_pressure"},
	"wind_speed":  {"wind_speed", "wind_velocity"},
	"condition":   {"weather_condition", "condition", "weather_main"},
	"currency":    {"currency"},
	"units":       {"units"},
}

// exchangeSuffixes are venue decorations stripped from instrument
// symbols so the same instrument from different feeds dedupes.
var exchangeSuffixes = []string{".US", ".O", ".N", ".TO", ".V", ".AX", ".L", ".DE"}

// Standardizer normalizes raw records into canonical Records. Safe for
// concurrent use; it carries no per-run state.
type Standardizer struct {
	reportingCurrency string
	rates             RateLookup
	// sourceTimezones maps source name to the IANA zone its naive
	// timestamps are expressed in. Sources absent from the map report UTC.
	sourceTimezones map[string]string
	logger          *slog.Logger
}

// New creates a Standardizer. rates may be nil to disable
// reporting-currency conversion.
func New(reportingCurrency string, rates RateLookup, sourceTimezones map[string]string, logger *slog.Logger) *Standardizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Standardizer{
		reportingCurrency: strings.ToUpper(reportingCurrency),
		rates:             rates,
		sourceTimezones:   sourceTimezones,
		logger:            logger,
	}
}

// Standardize converts raw records for one entity type. Output is sorted
// by timestamp and deduplicated on the natural key keeping the last
// occurrence. Records never drop here: unparseable fields are nulled and
// flagged for the validator.
func (s *Standardizer) Standardize(raws []extract.RawRecord, entity extract.EntityType) []Record {
	if len(raws) == 0 {
		return nil
	}

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		records = append(records, s.one(raw, entity))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	deduped := dedupeKeepLast(records)
	if removed := len(records) - len(deduped); removed > 0 {
		s.logger.Info("removed duplicate records",
			slog.String("entity", string(entity)),
			slog.Int("duplicates", removed))
	}
	return deduped
}

func (s *Standardizer) one(raw extract.RawRecord, entity extract.EntityType) Record {
	rec := Record{
		Entity:         entity,
		Source:         raw.Source,
		ExtractedAt:    raw.ExtractedAt,
		StandardizedAt: time.Now().UTC(),
	}

	s.applyTimestamp(&rec, raw)

	switch entity {
	case extract.EntityStock, extract.EntityForex, extract.EntityCrypto:
		s.applyPrices(&rec, raw, entity)
	case extract.EntityEconomic:
		s.applyEconomic(&rec, raw)
	case extract.EntityWeather:
		s.applyWeather(&rec, raw)
	}
	return rec
}

func (s *Standardizer) applyTimestamp(rec *Record, raw extract.RawRecord) {
	v, ok := lookup(raw.Fields, "timestamp")
	if !ok {
		rec.flag("timestamp", "missing")
		return
	}
	ts, err := parseTime(v, s.location(raw))
	if err != nil {
		rec.flag("timestamp", err.Error())
		return
	}
	rec.Timestamp = ts.UTC()
}

// location resolves the zone naive timestamps from this source are in.
// A timezone field on the record itself wins over the configured map.
func (s *Standardizer) location(raw extract.RawRecord) *time.Location {
	name := ""
	if v, ok := raw.Fields["timezone"]; ok {
		name, _ = v.(string)
	}
	if name == "" {
		name = s.sourceTimezones[raw.Source]
	}
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.logger.Warn("unknown source timezone, assuming UTC",
			slog.String("source", raw.Source),
			slog.String("timezone", name))
		return time.UTC
	}
	return loc
}

func (s *Standardizer) applyPrices(rec *Record, raw extract.RawRecord, entity extract.EntityType) {
	precision := int32(PrecisionPrice)
	if entity == extract.EntityForex {
		precision = PrecisionFX
	}

	rec.Symbol = normalizeSymbol(stringField(raw.Fields, "symbol"), entity)
	rec.Exchange = strings.ToUpper(stringField(raw.Fields, "exchange"))
	rec.Currency = strings.ToUpper(stringField(raw.Fields, "currency"))

	rec.Open = s.coerceDecimal(rec, raw, "open", precision)
	rec.High = s.coerceDecimal(rec, raw, "high", precision)
	rec.Low = s.coerceDecimal(rec, raw, "low", precision)
	rec.Close = s.coerceDecimal(rec, raw, "close", precision)
	rec.Volume = s.coerceDecimal(rec, raw, "volume", 0)

	// Forex values are exchange rates, not amounts; they are never
	// currency-converted.
	if entity != extract.EntityForex {
		s.convertCurrency(rec, precision)
	}
}

func (s *Standardizer) applyEconomic(rec *Record, raw extract.RawRecord) {
	rec.SeriesID = strings.ToUpper(stringField(raw.Fields, "series_id"))

	if v, ok := lookup(raw.Fields, "value"); ok {
		// FRED publishes "." for dates with no observation.
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "." {
			rec.flag("value", "missing observation")
			return
		}
	}
	rec.Value = s.coerceDecimal(rec, raw, "value", PrecisionPrice)
}

func (s *Standardizer) applyWeather(rec *Record, raw extract.RawRecord) {
	rec.Location = strings.TrimSpace(stringField(raw.Fields, "location"))
	rec.Condition = stringField(raw.Fields, "condition")
	rec.Latitude = s.coerceDecimal(rec, raw, "latitude", 4)
	rec.Longitude = s.coerceDecimal(rec, raw, "longitude", 4)

	temp := s.coerceDecimal(rec, raw, "temperature", -1)
	pressure := s.coerceDecimal(rec, raw, "pressure", -1)
	wind := s.coerceDecimal(rec, raw, "wind_speed", -1)
	rec.Humidity = s.coerceDecimal(rec, raw, "humidity", PrecisionWeather)

	// Imperial readings arrive in °F and mph; standard in Kelvin.
	// Canonical storage is °C, millibars, m/s.
	units := strings.ToLower(stringField(raw.Fields, "units"))
	switch units {
	case "imperial":
		if temp.Valid {
			temp.Decimal = FahrenheitToCelsius(temp.Decimal)
		}
		if wind.Valid {
			wind.Decimal = MphToMetersPerSecond(wind.Decimal)
		}
	case "standard":
		if temp.Valid {
			temp.Decimal = temp.Decimal.Sub(decimal.RequireFromString("273.15"))
		}
	}

	rec.Temperature = roundNull(temp, PrecisionTemperature)
	rec.Pressure = roundNull(pressure, PrecisionWeather)
	rec.WindSpeed = roundNull(wind, PrecisionWeather)
}

// convertCurrency rebases monetary fields onto the reporting currency
// when a rate is available. Failure leaves the original tag in place and
// flags the record rather than dropping it.
func (s *Standardizer) convertCurrency(rec *Record, precision int32) {
	if s.rates == nil || rec.Currency == "" || s.reportingCurrency == "" || rec.Currency == s.reportingCurrency {
		return
	}
	rate, err := s.rates.Rate(rec.Currency, s.reportingCurrency)
	if err != nil {
		rec.flag("currency", err.Error())
		return
	}
	for _, field := range []*decimal.NullDecimal{&rec.Open, &rec.High, &rec.Low, &rec.Close, &rec.Value} {
		if field.Valid {
			field.Decimal = field.Decimal.Mul(rate).RoundBank(precision)
		}
	}
	rec.Currency = s.reportingCurrency
}

// coerceDecimal pulls a canonical field and parses it as a decimal.
// precision < 0 skips rounding (for values converted later); a parse
// failure nulls the field and flags the record.
func (s *Standardizer) coerceDecimal(rec *Record, raw extract.RawRecord, field string, precision int32) decimal.NullDecimal {
	v, ok := lookup(raw.Fields, field)
	if !ok {
		return decimal.NullDecimal{}
	}
	d, err := toDecimal(v)
	if err != nil {
		rec.flag(field, err.Error())
		return decimal.NullDecimal{}
	}
	if precision >= 0 {
		d = d.RoundBank(precision)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func roundNull(d decimal.NullDecimal, precision int32) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	d.Decimal = d.Decimal.RoundBank(precision)
	return d
}

// lookup resolves a canonical field through its source aliases.
func lookup(fields map[string]interface{}, canonical string) (interface{}, bool) {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := fields[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]interface{}, canonical string) string {
	v, ok := lookup(fields, canonical)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// normalizeSymbol uppercases, strips venue suffixes and collapses pair
// separators so EUR/USD and EUR-USD identify the same instrument.
func normalizeSymbol(symbol string, entity extract.EntityType) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range exchangeSuffixes {
		symbol = strings.TrimSuffix(symbol, suffix)
	}
	if entity == extract.EntityForex || entity == extract.EntityCrypto {
		symbol = strings.NewReplacer("/", "", "-", "").Replace(symbol)
	}
	return symbol
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("cannot parse %q as a number", t)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number:
		return toDecimal(string(t))
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// timeLayouts are tried in order for string timestamps.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime coerces source timestamp values. Naive strings are read in
// loc; numeric values are unix seconds (milliseconds when large enough
// to be unambiguous).
func parseTime(v interface{}, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int64:
		return fromUnix(t), nil
	case int:
		return fromUnix(int64(t)), nil
	case float64:
		return fromUnix(int64(t)), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return fromUnix(n), nil
		}
		return parseTime(string(t), loc)
	case string:
		str := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			return fromUnix(n), nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, str, loc); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", str)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func fromUnix(n int64) time.Time {
	// Milliseconds when the value is too large for a plausible date in
	// seconds (year ~33000).
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func dedupeKeepLast(records []Record) []Record {
	lastIdx := make(map[string]int, len(records))
	for i, r := range records {
		lastIdx[r.Key()] = i
	}
	if len(lastIdx) == len(records) {
		return records
	}
	out := make([]Record, 0, len(lastIdx))
	for i, r := range records {
		if lastIdx[r.Key()] == i {
			out = append(out, r)
		}
	}
	return out
}
