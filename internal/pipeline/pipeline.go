// Package pipeline builds the chain of well assets: ingest, intersection
// flags, filtering, sampling, reference buffers and sampler dates. Every step
// produces one asset, is skipped when the asset exists, and waits for the
// tasks producing its inputs before it is built.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leafprep/internal/assets"
	"leafprep/internal/config"
	"leafprep/internal/ee"
	"leafprep/internal/ingest"
	"leafprep/internal/logging"
	"leafprep/internal/recipes"
	"leafprep/internal/tasks"
)

// Client is the Earth Engine surface the pipeline needs.
type Client interface {
	ingest.Client
}

// Loader reads and prepares a local source.
type Loader func(ctx context.Context, src config.SourceConfig) (*ingest.Table, error)

// Runner executes pipeline steps.
type Runner struct {
	cfg      *config.Config
	manager  *assets.Manager
	tracker  *tasks.Tracker
	uploader *ingest.Uploader
	load     Loader
}

// Option configures a Runner.
type Option func(*Runner)

// WithUploader replaces the default uploader, for instance to stage through
// Cloud Storage.
func WithUploader(u *ingest.Uploader) Option {
	return func(r *Runner) { r.uploader = u }
}

// WithLoader replaces ingest.Load.
func WithLoader(l Loader) Option {
	return func(r *Runner) { r.load = l }
}

// NewRunner creates a Runner. Exports are added to tracker.
func NewRunner(cfg *config.Config, client Client, tracker *tasks.Tracker, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		manager: assets.NewManager(client, tracker),
		tracker: tracker,
		load:    ingest.Load,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.uploader == nil {
		r.uploader = ingest.NewUploader(client, tracker, cfg.EarthEngine.PayloadLimitBytes)
	}
	return r
}

// RunOptions selects what Run does.
type RunOptions struct {
	// Steps limits the run to these step names. Empty runs every step.
	Steps []string
	// NoWait returns once the last export is started instead of waiting for
	// every task.
	NoWait bool
}

// Run executes the selected steps in order.
func (r *Runner) Run(ctx context.Context, opts RunOptions) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "run")
	defer timer.StopWithInfo()

	steps, err := r.SelectSteps(opts.Steps)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runStep(ctx, step); err != nil {
			return fmt.Errorf("step %s: %w", step.Name, err)
		}
	}
	if opts.NoWait {
		logging.Pipeline("%d task(s) left running", r.tracker.Pending())
		return nil
	}
	return r.tracker.Wait(ctx)
}

// SelectSteps returns the named steps in pipeline order, or every step when
// names is empty.
func (r *Runner) SelectSteps(names []string) ([]config.StepConfig, error) {
	if len(names) == 0 {
		return r.cfg.Pipeline, nil
	}
	byName := make(map[string]config.StepConfig, len(r.cfg.Pipeline))
	for _, s := range r.cfg.Pipeline {
		byName[s.Name] = s
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := byName[n]; !ok {
			return nil, fmt.Errorf("unknown pipeline step %q", n)
		}
		want[n] = true
	}
	var out []config.StepConfig
	for _, s := range r.cfg.Pipeline {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Runner) runStep(ctx context.Context, step config.StepConfig) error {
	id := r.cfg.AssetID(step.Name)
	if r.manager.Exists(ctx, id) {
		logging.Pipeline("%s exists, skipping", step.Name)
		return nil
	}
	if task, ok := r.tracker.ForAsset(id); ok && !task.Failed() {
		logging.Pipeline("%s already in flight", step.Name)
		return nil
	}

	inputs := r.inputs(step)
	if len(inputs) > 0 {
		logging.Pipeline("%s: waiting for %d input(s)", step.Name, len(inputs))
		if err := r.tracker.WaitFor(ctx, inputs...); err != nil {
			return fmt.Errorf("input failed: %w", err)
		}
	}

	if step.Op == config.OpIngest {
		return r.ingest(ctx, step, id)
	}
	fc, err := r.build(ctx, step)
	if err != nil {
		return err
	}
	desc := step.Name
	if _, err := r.manager.ExportIfNotExists(ctx, id, fc, desc); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	return nil
}

// inputs lists the asset ids a step reads.
func (r *Runner) inputs(step config.StepConfig) []string {
	var ids []string
	if step.Input != "" {
		ids = append(ids, r.cfg.AssetID(step.Input))
	}
	for _, f := range step.Flags {
		if f.Asset != "" {
			ids = append(ids, r.cfg.AssetID(f.Asset))
		}
	}
	return ids
}

func (r *Runner) ingest(ctx context.Context, step config.StepConfig, id string) error {
	src, ok := r.cfg.Source(step.Source)
	if !ok {
		return fmt.Errorf("unknown source %q", step.Source)
	}
	table, err := r.load(ctx, src)
	if err != nil {
		return err
	}
	return r.uploader.Upload(ctx, id, table)
}

// build returns the collection a non-ingest step exports.
func (r *Runner) build(ctx context.Context, step config.StepConfig) (ee.FeatureCollection, error) {
	input, err := r.manager.Require(ctx, r.cfg.AssetID(step.Input))
	if err != nil {
		return ee.FeatureCollection{}, err
	}

	switch step.Op {
	case config.OpFlag:
		layers, err := r.flagLayers(ctx, step.Flags)
		if err != nil {
			return ee.FeatureCollection{}, err
		}
		return recipes.IntersectionFlags(input, layers), nil

	case config.OpFilterUnflagged:
		fields := step.Fields
		if len(fields) == 0 {
			fields = r.allFlagFields()
		}
		if len(fields) == 0 {
			return ee.FeatureCollection{}, errors.New("no flag fields to filter on")
		}
		return recipes.FilterUnflagged(input, fields), nil

	case config.OpRandomSample:
		return recipes.RandomSample(input, step.Size, step.Seed), nil

	case config.OpReferenceBuffer:
		inner := orDefault(step.Distance, recipes.DefaultBuffer)
		outer := orDefault(step.OuterDistance, recipes.DefaultReferenceOuter)
		maxErr := orDefault(step.MaxError, recipes.DefaultReferenceError)
		fc := input.Map(recipes.ReferenceBuffer(inner, outer, maxErr, step.Carry))
		if step.FlagEmpty {
			fc = fc.Map(recipes.CheckEmptyCoordinates)
		}
		return fc, nil

	case config.OpBuffer, config.OpInwardDilation:
		def := float64(recipes.DefaultBuffer)
		if step.Op == config.OpInwardDilation {
			def = recipes.DefaultInwardDilation
		}
		d := orDefault(step.Distance, def)
		var fc ee.FeatureCollection
		if d < 0 || step.Op == config.OpInwardDilation {
			fc = input.Map(recipes.InwardDilation(d))
		} else {
			fc = input.Map(recipes.Buffer(d))
		}
		if step.FlagEmpty {
			fc = fc.Map(recipes.CheckEmptyCoordinates)
		}
		return fc, nil

	case config.OpSamplerDates:
		end, err := time.Parse("2006-01-02", step.EndDate)
		if err != nil {
			return ee.FeatureCollection{}, fmt.Errorf("invalid end_date: %w", err)
		}
		fc := input.Map(recipes.SetDates(step.YearProperty, end))
		if step.SetArea {
			fc = fc.Map(recipes.SetArea)
		}
		return fc, nil
	}
	return ee.FeatureCollection{}, fmt.Errorf("unknown op %q", step.Op)
}

func (r *Runner) flagLayers(ctx context.Context, flags []config.FlagLayerConfig) ([]recipes.FlagLayer, error) {
	layers := make([]recipes.FlagLayer, 0, len(flags))
	for _, f := range flags {
		layer := recipes.FlagLayer{Name: f.Name, Buffer: f.Buffer}
		if f.Asset != "" {
			fc, err := r.manager.Require(ctx, r.cfg.AssetID(f.Asset))
			if err != nil {
				return nil, fmt.Errorf("flag layer %s: %w", f.Name, err)
			}
			layer.Collection = fc
		} else {
			layer.Collection = recipes.RasterClassVectors(ee.LoadImage(f.Image), f.Class, f.Scale, f.Name)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// allFlagFields collects the flag properties every flag step sets.
func (r *Runner) allFlagFields() []string {
	var layers []recipes.FlagLayer
	for _, s := range r.cfg.Pipeline {
		if s.Op != config.OpFlag {
			continue
		}
		for _, f := range s.Flags {
			layers = append(layers, recipes.FlagLayer{Name: f.Name, Buffer: f.Buffer})
		}
	}
	return recipes.FlagFields(layers)
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
