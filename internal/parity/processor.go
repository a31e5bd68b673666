package parity

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gpkgparity/internal/gpkg"
	"gpkgparity/internal/logging"
)

// Stage names the pipeline step a ProcessingError came from.
type Stage string

const (
	StageInspect   Stage = "inspect"
	StageSchema    Stage = "schema"
	StageTransform Stage = "transform"
)

// ProcessingError is an unexpected failure while inspecting the layer,
// creating parity fields or staging values. Any pending changes have
// been rolled back by the time it is returned.
type ProcessingError struct {
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Options configures a Processor.
type Options struct {
	Fields FieldSpec
	// Workers > 1 computes parities concurrently, one batch at a time.
	Workers int
	// Quiet suppresses the per-feature lines. Value warnings are still
	// counted and logged at warn level.
	Quiet bool
	// LayerName selects a layer; empty means the first one.
	LayerName string
}

// Report summarizes a run.
type Report struct {
	RunID         string
	Path          string
	Layer         string
	IntegerFields []string
	// NoIntegerFields is set when the layer had nothing to process.
	NoIntegerFields bool
	FieldsCreated   []string
	FieldsReused    []string

	// FeaturesProcessed counts every feature read; FeaturesUpdated those
	// that got at least one non-NULL parity.
	FeaturesProcessed int
	FeaturesUpdated   int
	MissingValues     int
	NotIntegers       int

	State gpkg.EditState
}

// FieldsEnsured is the number of parity fields created or reused.
func (r *Report) FieldsEnsured() int {
	return len(r.FieldsCreated) + len(r.FieldsReused)
}

// Processor runs the parity pipeline against layers opened through one
// runtime. Human-readable progress goes to out.
type Processor struct {
	rt     *gpkg.Runtime
	opts   Options
	out    io.Writer
	logger *zap.Logger
}

// NewProcessor returns a Processor. Zero options fall back to
// DefaultFieldSpec and a single worker.
func NewProcessor(rt *gpkg.Runtime, opts Options, out io.Writer, logger *zap.Logger) *Processor {
	if opts.Fields.Prefix == "" {
		opts.Fields.Prefix = DefaultFieldSpec.Prefix
	}
	if opts.Fields.Length <= 0 {
		opts.Fields.Length = DefaultFieldSpec.Length
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{rt: rt, opts: opts, out: out, logger: logger}
}

// Run processes the layer at uri. Load failures return the *gpkg.LoadError,
// a rejected commit the *gpkg.CommitError and anything else during field
// creation or the feature pass a *ProcessingError. The report is returned
// whenever the layer was loaded.
func (p *Processor) Run(ctx context.Context, uri string) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	log := p.logger.With(zap.String("run_id", report.RunID))
	defer logging.StartTimer(log, "parity run").Stop()

	loaderLog := logging.Get(log, logging.CategoryLoader)
	layer, err := LoadLayer(p.out, p.rt, uri, p.opts.LayerName)
	if err != nil {
		loaderLog.Warn("layer load failed", zap.String("uri", uri), zap.Error(err))
		return nil, err
	}
	ds := layer.DataSource()
	defer func() {
		if err := ds.Close(); err != nil {
			loaderLog.Warn("failed to close data source", zap.Error(err))
		}
	}()

	report.Path = ds.Path()
	report.Layer = layer.Name()
	info := layer.Info()
	loaderLog.Info("layer loaded",
		zap.String("path", report.Path),
		zap.String("layer", report.Layer),
		zap.String("identifier", info.Identifier),
		zap.String("data_type", info.DataType))

	fields := IntegerFields(layer)
	report.IntegerFields = fields
	logging.Get(log, logging.CategorySchema).Debug("integer fields selected", zap.Strings("fields", fields))

	if err := PrintLayerInfo(ctx, p.out, layer, fields); err != nil {
		return report, &ProcessingError{Stage: StageInspect, Err: err}
	}
	if len(fields) == 0 {
		fmt.Fprintln(p.out, "Warning: no integer fields found in the layer to process!")
		report.NoIntegerFields = true
		return report, nil
	}

	commitLog := logging.Get(log, logging.CategoryCommit)
	if err := layer.StartEditing(); err != nil {
		return report, &ProcessingError{Stage: StageSchema, Err: err}
	}

	if err := p.process(ctx, log, layer, fields, report); err != nil {
		if rbErr := layer.RollBack(); rbErr != nil {
			commitLog.Warn("rollback failed", zap.Error(rbErr))
		}
		report.State = layer.State()
		commitLog.Warn("processing failed, changes rolled back", zap.Error(err))
		fmt.Fprintf(p.out, "Error processing layer: %v\n", err)
		return report, err
	}

	timer := logging.StartTimer(commitLog, "commit")
	err = layer.CommitChanges(ctx)
	timer.Stop()
	report.State = layer.State()
	if err != nil {
		fmt.Fprintln(p.out, "Error saving changes:")
		var commitErr *gpkg.CommitError
		if errors.As(err, &commitErr) {
			for _, e := range commitErr.Errors() {
				fmt.Fprintf(p.out, "  - %v\n", e)
			}
		} else {
			fmt.Fprintf(p.out, "  - %v\n", err)
		}
		return report, err
	}

	commitLog.Info("changes committed",
		zap.Int("features_updated", report.FeaturesUpdated),
		zap.Int("fields_created", len(report.FieldsCreated)),
		zap.Int("fields_reused", len(report.FieldsReused)))
	fmt.Fprintf(p.out, "Changes saved successfully! Features processed: %d\n", report.FeaturesUpdated)
	fmt.Fprintf(p.out, "Parity fields ensured: %d (created %d, reused %d)\n",
		report.FieldsEnsured(), len(report.FieldsCreated), len(report.FieldsReused))
	return report, nil
}

// process ensures the parity fields and stages every value. A panic in
// either step becomes a *ProcessingError.
func (p *Processor) process(ctx context.Context, log *zap.Logger, layer *gpkg.Layer, fields []string, report *Report) (err error) {
	current := StageSchema
	defer func() {
		if r := recover(); r != nil {
			err = &ProcessingError{Stage: current, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	targets, err := p.ensureFields(logging.Get(log, logging.CategorySchema), layer, fields, report)
	if err != nil {
		return &ProcessingError{Stage: StageSchema, Err: err}
	}

	current = StageTransform
	if err := p.transformAll(ctx, logging.Get(log, logging.CategoryTransform), layer, targets, report); err != nil {
		return &ProcessingError{Stage: StageTransform, Err: err}
	}
	return nil
}

func (p *Processor) ensureFields(log *zap.Logger, layer *gpkg.Layer, fields []string, report *Report) ([]target, error) {
	targets := make([]target, 0, len(fields))
	for _, field := range fields {
		name := p.opts.Fields.Name(field)
		if layer.FieldIndex(name) < 0 {
			fmt.Fprintf(p.out, "Creating new field '%s'...\n", name)
		}

		idx, created, err := p.opts.Fields.Ensure(layer, field)
		if err != nil {
			return nil, err
		}
		if created {
			report.FieldsCreated = append(report.FieldsCreated, name)
			fmt.Fprintf(p.out, "Field '%s' created successfully\n", name)
		} else {
			report.FieldsReused = append(report.FieldsReused, name)
			fmt.Fprintf(p.out, "Field '%s' already exists, it will be overwritten\n", name)
		}
		log.Debug("parity field ensured", zap.String("field", name), zap.Bool("created", created), zap.Int("index", idx))

		targets = append(targets, target{
			field:     field,
			parity:    name,
			srcIdx:    layer.FieldIndex(field),
			parityIdx: idx,
		})
	}
	return targets, nil
}

// transformAll runs the feature pass. With one worker every value goes
// through Transform; otherwise features are collected into batches whose
// parities are computed concurrently and then staged in feature id order.
func (p *Processor) transformAll(ctx context.Context, log *zap.Logger, layer *gpkg.Layer, targets []target, report *Report) error {
	if p.opts.Workers <= 1 {
		return layer.ForEachFeature(ctx, func(f *gpkg.Feature) error {
			results := make([]Result, len(targets))
			for j, t := range targets {
				r, err := Transform(layer, f, t.srcIdx, t.parityIdx)
				if err != nil {
					return err
				}
				results[j] = r
			}
			p.record(log, f, targets, results, report)
			return nil
		})
	}

	batchSize := p.opts.Workers * featuresPerWorker
	batch := make([]*gpkg.Feature, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := computeBatch(ctx, p.opts.Workers, batch, targets)
		if err != nil {
			return err
		}
		for i, f := range batch {
			for j, t := range targets {
				if err := stage(layer, f.FID, t.parityIdx, results[i][j]); err != nil {
					return err
				}
			}
			p.record(log, f, targets, results[i], report)
		}
		log.Debug("batch staged", zap.Int("features", len(batch)))
		batch = batch[:0]
		return nil
	}

	err := layer.ForEachFeature(ctx, func(f *gpkg.Feature) error {
		batch = append(batch, f)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// record prints the lines for one staged feature and updates the counters.
func (p *Processor) record(log *zap.Logger, f *gpkg.Feature, targets []target, results []Result, report *Report) {
	updated := false
	for j, t := range targets {
		r := results[j]
		switch r.Outcome {
		case OK:
			updated = true
			if !p.opts.Quiet {
				fmt.Fprintf(p.out, "Feature ID %d: %s=%s, %s=%s\n", f.FID, t.field, r.Int, t.parity, r.Parity)
			}
		case MissingValue:
			report.MissingValues++
			if !p.opts.Quiet {
				fmt.Fprintf(p.out, "Warning: value of field '%s' is NULL for feature ID %d\n", t.field, f.FID)
			}
			log.Warn("value is NULL", zap.Int64("fid", f.FID), zap.String("field", t.field))
		case NotInteger:
			report.NotIntegers++
			value := formatValue(f.Value(t.srcIdx))
			if !p.opts.Quiet {
				fmt.Fprintf(p.out, "Warning: could not convert value '%s' of field '%s' to an integer for feature ID %d\n",
					value, t.field, f.FID)
			}
			log.Warn("value is not an integer", zap.Int64("fid", f.FID), zap.String("field", t.field), zap.String("value", value))
		}
	}
	report.FeaturesProcessed++
	if updated {
		report.FeaturesUpdated++
	}
}
