package load

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"mdetl/internal/extract"
	"mdetl/internal/infrastructure"
	"mdetl/internal/retry"
	"mdetl/internal/standardize"
)

// DefaultBatchSize bounds rows per upsert statement.
const DefaultBatchSize = 1000

// execer is the slice of sqlx the loader needs; *sqlx.DB satisfies it.
type execer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// Result reports one Load invocation. Loaded+Failed always equals the
// number of input records.
type Result struct {
	Loaded int
	Failed int
	// Errors holds one entry per permanently failed batch.
	Errors []error
}

// tableSpec describes one entity table: column order, the upsert
// conflict target, and how a record binds to named parameters.
type tableSpec struct {
	table    string
	columns  []string
	conflict []string
	bind     func(r standardize.Record) map[string]interface{}
}

var tableSpecs = map[extract.EntityType]tableSpec{
	extract.EntityStock: {
		table:    "stock_prices",
		columns:  []string{"symbol", "trade_date", "source", "open", "high", "low", "close", "volume", "currency", "exchange", "has_anomalies"},
		conflict: []string{"symbol", "trade_date", "source"},
		bind: func(r standardize.Record) map[string]interface{} {
			return map[string]interface{}{
				"symbol":        r.Symbol,
				"trade_date":    r.Timestamp,
				"source":        r.Source,
				"open":          r.Open,
				"high":          r.High,
				"low":           r.Low,
				"close":         r.Close,
				"volume":        r.Volume,
				"currency":      r.Currency,
				"exchange":      r.Exchange,
				"has_anomalies": r.HasAnomalies,
			}
		},
	},
	extract.EntityForex: {
		table:    "forex_rates",
		columns:  []string{"base_currency", "quote_currency", "trade_date", "source", "open", "high", "low", "close", "has_anomalies"},
		conflict: []string{"base_currency", "quote_currency", "trade_date", "source"},
		bind: func(r standardize.Record) map[string]interface{} {
			base, quote := splitPair(r.Symbol)
			return map[string]interface{}{
				"base_currency":  base,
				"quote_currency": quote,
				"trade_date":     r.Timestamp,
				"source":         r.Source,
				"open":           r.Open,
				"high":           r.High,
				"low":            r.Low,
				"close":          r.Close,
				"has_anomalies":  r.HasAnomalies,
			}
		},
	},
	extract.EntityCrypto: {
		table:    "crypto_prices",
		columns:  []string{"symbol", "exchange", "ts", "source", "open", "high", "low", "close", "volume", "currency", "has_anomalies"},
		conflict: []string{"symbol", "exchange", "ts", "source"},
		bind: func(r standardize.Record) map[string]interface{} {
			return map[string]interface{}{
				"symbol":        r.Symbol,
				"exchange":      r.Exchange,
				"ts":            r.Timestamp,
				"source":        r.Source,
				"open":          r.Open,
				"high":          r.High,
				"low":           r.Low,
				"close":         r.Close,
				"volume":        r.Volume,
				"currency":      r.Currency,
				"has_anomalies": r.HasAnomalies,
			}
		},
	},
	extract.EntityEconomic: {
		table:    "economic_indicators",
		columns:  []string{"series_id", "observation_date", "source", "value", "has_anomalies"},
		conflict: []string{"series_id", "observation_date", "source"},
		bind: func(r standardize.Record) map[string]interface{} {
			return map[string]interface{}{
				"series_id":        r.SeriesID,
				"observation_date": r.Timestamp,
				"source":           r.Source,
				"value":            r.Value,
				"has_anomalies":    r.HasAnomalies,
			}
		},
	},
	extract.EntityWeather: {
		table:    "weather_observations",
		columns:  []string{"location", "ts", "source", "latitude", "longitude", "temperature", "humidity", "pressure", "wind_speed", "condition", "has_anomalies"},
		conflict: []string{"location", "ts", "source"},
		bind: func(r standardize.Record) map[string]interface{} {
			return map[string]interface{}{
				"location":      r.Location,
				"ts":            r.Timestamp,
				"source":        r.Source,
				"latitude":      r.Latitude,
				"longitude":     r.Longitude,
				"temperature":   r.Temperature,
				"humidity":      r.Humidity,
				"pressure":      r.Pressure,
				"wind_speed":    r.WindSpeed,
				"condition":     r.Condition,
				"has_anomalies": r.HasAnomalies,
			}
		},
	},
}

// upsertQuery builds the multi-row insert with the conflict clause.
// Non-key columns take the incoming value; updated_at refreshes on every
// touch so repeated loads of the same window are observable.
func (ts tableSpec) upsertQuery() string {
	placeholders := make([]string, len(ts.columns))
	for i, col := range ts.columns {
		placeholders[i] = ":" + col
	}

	isKey := make(map[string]bool, len(ts.conflict))
	for _, col := range ts.conflict {
		isKey[col] = true
	}
	var updates []string
	for _, col := range ts.columns {
		if !isKey[col] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	updates = append(updates, "updated_at = NOW()")

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		ts.table,
		strings.Join(ts.columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(ts.conflict, ", "),
		strings.Join(updates, ", "),
	)
}

// splitPair recovers base and quote from a collapsed pair symbol.
func splitPair(symbol string) (string, string) {
	if len(symbol) == 6 {
		return symbol[:3], symbol[3:]
	}
	return symbol, ""
}

// Loader writes accepted records in batches. One failed batch never
// aborts the rest; callers read partial success out of the Result.
type Loader struct {
	db        execer
	policy    *retry.Policy
	batchSize int
	metrics   *infrastructure.Metrics
	logger    *slog.Logger
}

// NewLoader creates a Loader over an open store.
func NewLoader(store *Store, policy *retry.Policy, batchSize int, metrics *infrastructure.Metrics, logger *slog.Logger) *Loader {
	return newLoader(store.DB(), policy, batchSize, metrics, logger)
}

func newLoader(db execer, policy *retry.Policy, batchSize int, metrics *infrastructure.Metrics, logger *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if policy == nil {
		policy = retry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{db: db, policy: policy, batchSize: batchSize, metrics: metrics, logger: logger}
}

// Load upserts records for one entity type. Cancellation is honored
// between batches; already-written batches stay written and the partial
// Result is returned alongside the context error.
func (l *Loader) Load(ctx context.Context, records []standardize.Record, entity extract.EntityType) (Result, error) {
	var res Result
	if len(records) == 0 {
		return res, nil
	}
	spec, ok := tableSpecs[entity]
	if !ok {
		res.Failed = len(records)
		return res, fmt.Errorf("no table mapping for entity type %q", entity)
	}
	query := spec.upsertQuery()

	for start := 0; start < len(records); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + l.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if err := l.writeBatch(ctx, query, spec, batch); err != nil {
			res.Failed += len(batch)
			res.Errors = append(res.Errors, err)
			l.countRecords(entity, "failed", len(batch))
			l.logger.Error("batch load failed",
				slog.String("entity", string(entity)),
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			continue
		}
		res.Loaded += len(batch)
		l.countRecords(entity, "loaded", len(batch))
	}

	l.logger.Info("load completed",
		slog.String("entity", string(entity)),
		slog.Int("loaded", res.Loaded),
		slog.Int("failed", res.Failed))
	return res, nil
}

func (l *Loader) writeBatch(ctx context.Context, query string, spec tableSpec, batch []standardize.Record) error {
	rows := make([]map[string]interface{}, len(batch))
	for i, rec := range batch {
		rows[i] = spec.bind(rec)
	}

	operation := "upsert " + spec.table
	return l.policy.Do(ctx, operation, func(ctx context.Context) error {
		_, err := l.db.NamedExecContext(ctx, query, rows)
		return classifyStoreError(err)
	})
}

func (l *Loader) countRecords(entity extract.EntityType, outcome string, n int) {
	if l.metrics == nil {
		return
	}
	switch outcome {
	case "loaded":
		l.metrics.RecordsLoaded.WithLabelValues(string(entity)).Add(float64(n))
	case "failed":
		l.metrics.RecordsFailed.WithLabelValues(string(entity)).Add(float64(n))
	}
}
