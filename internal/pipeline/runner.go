package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mdetl/internal/extract"
	"mdetl/internal/infrastructure"
	"mdetl/internal/load"
	"mdetl/internal/standardize"
	"mdetl/internal/validate"
)

// ExtractorProvider resolves the extractor serving an entity type.
// *extract.Factory is the production implementation.
type ExtractorProvider interface {
	For(entity extract.EntityType) (extract.Extractor, error)
}

// RecordLoader is the loader contract the runner needs.
type RecordLoader interface {
	Load(ctx context.Context, records []standardize.Record, entity extract.EntityType) (load.Result, error)
}

// RunSink persists run metadata rows.
type RunSink interface {
	Create(ctx context.Context, row load.RunRow) error
	Finalize(ctx context.Context, row load.RunRow) error
}

// RejectionSink receives rejected records for audit. Optional.
type RejectionSink interface {
	Export(runID string, entity extract.EntityType, rejections []validate.Rejection) (string, error)
}

// Runner executes entity pipelines. Phases run sequentially within one
// run; distinct Runner.Run calls are independent and may run
// concurrently.
type Runner struct {
	extractors   ExtractorProvider
	standardizer *standardize.Standardizer
	validator    *validate.Validator
	loader       RecordLoader
	runs         RunSink
	rejections   RejectionSink
	tracker      *Tracker
	metrics      *infrastructure.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
}

// RunnerOptions wires a Runner.
type RunnerOptions struct {
	Extractors   ExtractorProvider
	Standardizer *standardize.Standardizer
	Validator    *validate.Validator
	Loader       RecordLoader
	Runs         RunSink
	Rejections   RejectionSink
	Tracker      *Tracker
	Metrics      *infrastructure.Metrics
	Logger       *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		extractors:   opts.Extractors,
		standardizer: opts.Standardizer,
		validator:    opts.Validator,
		loader:       opts.Loader,
		runs:         opts.Runs,
		rejections:   opts.Rejections,
		tracker:      opts.Tracker,
		metrics:      opts.Metrics,
		tracer:       infrastructure.Tracer(),
		logger:       logger,
	}
}

// Run executes one pipeline for the entity type. It always returns the
// finalized Run; the error reports infrastructure failures that
// prevented the pipeline from starting at all.
func (r *Runner) Run(ctx context.Context, entity extract.EntityType, params extract.Params) (*Run, error) {
	extractor, err := r.extractors.For(entity)
	if err != nil {
		return nil, fmt.Errorf("cannot run %s pipeline: %w", entity, err)
	}

	run := NewRun(string(entity)+"_pipeline", entity, params)
	if r.tracker != nil {
		r.tracker.Add(run)
	}

	ctx = infrastructure.WithTraceID(ctx, run.ID())
	logger := r.logger.With(
		slog.String("run_id", run.ID()),
		slog.String("entity", string(entity)))
	logger.InfoContext(ctx, "pipeline run started", slog.String("source", extractor.Source()))

	if err := r.runs.Create(ctx, run.Row()); err != nil {
		logger.ErrorContext(ctx, "failed to create run record", slog.String("error", err.Error()))
		r.finish(ctx, run, StatusFailed, "run metadata write failed: "+err.Error(), logger)
		return run, err
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline.entity", string(entity)),
			attribute.String("pipeline.run_id", run.ID())))
	defer span.End()

	raws, extractErr := r.extractPhase(ctx, run, extractor, params)
	if canceled(ctx, extractErr) {
		r.finish(ctx, run, StatusCancelled, "cancelled during extraction", logger)
		return run, nil
	}
	if extractErr != nil && len(raws) == 0 {
		r.finish(ctx, run, StatusFailed, extractErr.Error(), logger)
		return run, nil
	}

	records := r.standardizePhase(ctx, run, raws, entity)
	outcome := r.validatePhase(ctx, run, records, entity)

	if r.rejections != nil && len(outcome.Rejected) > 0 {
		if path, err := r.rejections.Export(run.ID(), entity, outcome.Rejected); err != nil {
			logger.WarnContext(ctx, "rejected-record export failed", slog.String("error", err.Error()))
		} else {
			logger.InfoContext(ctx, "rejected records exported", slog.String("path", path))
		}
	}

	loadRes, loadErr := r.loadPhase(ctx, run, outcome.Accepted, entity)
	if canceled(ctx, loadErr) {
		r.finish(ctx, run, StatusCancelled, "cancelled during load", logger)
		return run, nil
	}

	status, msg := verdict(run.Counts(), extractErr, loadRes)
	r.finish(ctx, run, status, msg, logger)
	return run, nil
}

func (r *Runner) extractPhase(ctx context.Context, run *Run, extractor extract.Extractor, params extract.Params) ([]extract.RawRecord, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.extract")
	defer span.End()
	start := time.Now()
	defer func() { r.observePhase(run, PhaseExtract, time.Since(start)) }()

	it, err := extractor.Extract(ctx, params)
	if err != nil {
		return nil, err
	}

	var raws []extract.RawRecord
	for {
		page, ok, err := it.Next(ctx)
		raws = append(raws, page...)
		if len(page) > 0 && r.metrics != nil {
			r.metrics.RecordsExtracted.WithLabelValues(string(run.Entity()), extractor.Source()).Add(float64(len(page)))
		}
		run.setCounts(func(c *Counts) { c.Extracted = len(raws) })
		if err != nil {
			return raws, err
		}
		if !ok {
			return raws, nil
		}
	}
}

func (r *Runner) standardizePhase(ctx context.Context, run *Run, raws []extract.RawRecord, entity extract.EntityType) []standardize.Record {
	_, span := r.tracer.Start(ctx, "pipeline.standardize")
	defer span.End()
	start := time.Now()

	records := r.standardizer.Standardize(raws, entity)
	run.setCounts(func(c *Counts) { c.Standardized = len(records) })

	r.observePhase(run, PhaseStandardize, time.Since(start))
	return records
}

func (r *Runner) validatePhase(ctx context.Context, run *Run, records []standardize.Record, entity extract.EntityType) validate.Outcome {
	_, span := r.tracer.Start(ctx, "pipeline.validate")
	defer span.End()
	start := time.Now()

	outcome := r.validator.Validate(records, entity)
	run.setCounts(func(c *Counts) {
		c.Accepted = len(outcome.Accepted)
		c.Rejected = len(outcome.Rejected)
		c.Warnings = outcome.Anomalies
	})
	if r.metrics != nil {
		r.metrics.RecordsAccepted.WithLabelValues(string(entity)).Add(float64(len(outcome.Accepted)))
		r.metrics.RecordsRejected.WithLabelValues(string(entity)).Add(float64(len(outcome.Rejected)))
		r.metrics.Anomalies.WithLabelValues(string(entity)).Add(float64(outcome.Anomalies))
	}

	r.observePhase(run, PhaseValidate, time.Since(start))
	return outcome
}

func (r *Runner) loadPhase(ctx context.Context, run *Run, accepted []standardize.Record, entity extract.EntityType) (load.Result, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.load")
	defer span.End()
	start := time.Now()
	defer func() { r.observePhase(run, PhaseLoad, time.Since(start)) }()

	res, err := r.loader.Load(ctx, accepted, entity)
	run.setCounts(func(c *Counts) {
		c.Loaded = res.Loaded
		c.Failed = res.Failed
	})
	return res, err
}

// verdict maps final counts onto the terminal status. Nothing loaded
// with input present is a failure; any rejection or dead batch alongside
// loaded rows is partial success.
func verdict(c Counts, extractErr error, loadRes load.Result) (Status, string) {
	var msgParts []string
	if extractErr != nil {
		msgParts = append(msgParts, "extraction ended early: "+extractErr.Error())
	}
	for _, err := range loadRes.Errors {
		msgParts = append(msgParts, err.Error())
	}
	msg := strings.Join(msgParts, "; ")

	if c.Standardized == 0 && extractErr == nil {
		return StatusSuccess, msg
	}
	if c.Loaded == 0 && c.Standardized > 0 {
		if msg == "" {
			msg = "no records loaded"
		}
		return StatusFailed, msg
	}
	if c.Rejected > 0 || c.Failed > 0 || extractErr != nil {
		return StatusPartialSuccess, msg
	}
	return StatusSuccess, msg
}

// finish finalizes the run exactly once and persists the terminal row.
func (r *Runner) finish(ctx context.Context, run *Run, status Status, msg string, logger *slog.Logger) {
	if err := run.Finalize(status, msg); err != nil {
		logger.WarnContext(ctx, "run already finalized", slog.String("error", err.Error()))
		return
	}
	if err := r.runs.Finalize(ctx, run.Row()); err != nil {
		logger.ErrorContext(ctx, "failed to persist final run state", slog.String("error", err.Error()))
	}
	if r.metrics != nil {
		r.metrics.Runs.WithLabelValues(string(run.Entity()), string(status)).Inc()
	}

	counts := run.Counts()
	logger.InfoContext(ctx, "pipeline run finished",
		slog.String("status", string(status)),
		slog.Int("extracted", counts.Extracted),
		slog.Int("accepted", counts.Accepted),
		slog.Int("rejected", counts.Rejected),
		slog.Int("loaded", counts.Loaded),
		slog.Int("failed", counts.Failed),
		slog.Duration("duration", run.Duration()))
}

func (r *Runner) observePhase(run *Run, phase Phase, d time.Duration) {
	run.recordPhase(phase, d)
	if r.metrics != nil {
		r.metrics.PhaseDuration.WithLabelValues(string(run.Entity()), string(phase)).Observe(d.Seconds())
	}
}

func canceled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
