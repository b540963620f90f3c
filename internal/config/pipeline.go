package config

import "fmt"

// Source filter presets.
const (
	FilterReclaimedWells = "reclaimed_wells"
)

// Pipeline step operations.
const (
	OpIngest          = "ingest"
	OpFlag            = "flag"
	OpFilterUnflagged = "filter_unflagged"
	OpRandomSample    = "random_sample"
	OpReferenceBuffer = "reference_buffer"
	OpBuffer          = "buffer"
	OpInwardDilation  = "inward_dilation"
	OpSamplerDates    = "sampler_dates"
)

// LULCImage is the AER 2022 land-use/land-cover raster at 10 m.
const LULCImage = "projects/ee-eoagsaer/assets/LULC_2022_EE"

// StepConfig is one named asset in the asset-dependency pipeline.
type StepConfig struct {
	Name        string `yaml:"name"`
	Op          string `yaml:"op"`
	Description string `yaml:"description,omitempty"`

	// Input is the asset the step derives from (relative name or full id).
	Input string `yaml:"input,omitempty"`
	// Source names a SourceConfig for ingest steps.
	Source string `yaml:"source,omitempty"`

	Flags  []FlagLayerConfig `yaml:"flags,omitempty"`
	Fields []string          `yaml:"fields,omitempty"`

	Size int   `yaml:"size,omitempty"`
	Seed int64 `yaml:"seed,omitempty"`

	Distance      float64  `yaml:"distance,omitempty"`
	OuterDistance float64  `yaml:"outer_distance,omitempty"`
	MaxError      float64  `yaml:"max_error,omitempty"`
	FlagEmpty     bool     `yaml:"flag_empty,omitempty"`
	Carry         []string `yaml:"carry,omitempty"`

	YearProperty string `yaml:"year_property,omitempty"`
	EndDate      string `yaml:"end_date,omitempty"`
	SetArea      bool   `yaml:"set_area,omitempty"`
}

// FlagLayerConfig is one layer wells are tested against. Exactly one of
// Asset (vector) or Image (raster class) is set.
type FlagLayerConfig struct {
	Name   string  `yaml:"name"`
	Asset  string  `yaml:"asset,omitempty"`
	Image  string  `yaml:"image,omitempty"`
	Class  int     `yaml:"class,omitempty"`
	Scale  float64 `yaml:"scale,omitempty"`
	Buffer float64 `yaml:"buffer,omitempty"`
}

// DefaultPipeline mirrors the order the assets were originally produced in.
func DefaultPipeline() []StepConfig {
	return []StepConfig{
		{Name: "selected_polygons", Op: OpIngest, Source: "abandoned_wells",
			Description: "Reclaimed abandoned wells from HFI 2021"},
		{Name: "reservoirs", Op: OpIngest, Source: "reservoirs",
			Description: "ABMI reservoirs"},
		{Name: "industrial", Op: OpIngest, Source: "industrial",
			Description: "HFI 2021 industrial footprint"},
		{Name: "residentials", Op: OpIngest, Source: "residentials",
			Description: "HFI 2021 residential footprint"},
		{Name: "roads", Op: OpIngest, Source: "roads",
			Description: "HFI 2021 roads"},
		{Name: "intersecting_wells_flags", Op: OpFlag, Input: "selected_polygons",
			Description: "Flag wells near reservoirs and water bodies",
			Flags: []FlagLayerConfig{
				{Name: "reservoirs", Asset: "reservoirs", Buffer: 30},
				{Name: "waterbodies", Image: LULCImage, Class: 1, Scale: 10, Buffer: 30},
			}},
		{Name: "intersecting_wells_flags_v2", Op: OpFlag, Input: "intersecting_wells_flags",
			Description: "Flag wells near industrial, residential and road footprints",
			Flags: []FlagLayerConfig{
				{Name: "industrial", Asset: "industrial", Buffer: 30},
				{Name: "residential", Asset: "residentials", Buffer: 30},
				{Name: "roads", Asset: "roads", Buffer: 30},
			}},
		{Name: "intersecting_wells_flags_v3", Op: OpFlag, Input: "intersecting_wells_flags_v2",
			Description: "Flag wells near treed wetlands",
			Flags: []FlagLayerConfig{
				{Name: "wetland_treed", Image: LULCImage, Class: 3, Scale: 10, Buffer: 30},
			}},
		{Name: "filtered_abandoned_wells", Op: OpFilterUnflagged, Input: "intersecting_wells_flags_v3",
			Description: "Wells with no intersection flag set"},
		{Name: "random_sample_1000_filtered_abandoned_wells", Op: OpRandomSample,
			Input: "filtered_abandoned_wells", Size: 1000, Seed: 42,
			Description: "Random sample of 1000 filtered wells"},
		{Name: "random_sample_1000_filtered_reference_buffers", Op: OpReferenceBuffer,
			Input: "random_sample_1000_filtered_abandoned_wells", Distance: 30, OuterDistance: 90,
			MaxError: 1, Carry: []string{"wllst__", "rclmtn_d"},
			Description: "Reference ring buffers around the sampled wells"},
		{Name: "random_sample_1000_filtered_abandoned_wells_dated", Op: OpSamplerDates,
			Input: "random_sample_1000_filtered_abandoned_wells", YearProperty: "rclmtn_d",
			EndDate: "2023-01-01", SetArea: true,
			Description: "Sampled wells with sampler time range"},
		{Name: "random_sample_1000_filtered_reference_buffers_dated", Op: OpSamplerDates,
			Input: "random_sample_1000_filtered_reference_buffers", YearProperty: "rclmtn_d",
			EndDate: "2023-01-01", SetArea: true,
			Description: "Reference buffers with sampler time range"},
	}
}

func validatePipeline(steps []StepConfig) error {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("pipeline step %d: name required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("pipeline step %s: duplicate name", s.Name)
		}
		seen[s.Name] = true

		switch s.Op {
		case OpIngest:
			if s.Source == "" {
				return fmt.Errorf("pipeline step %s: ingest requires source", s.Name)
			}
			continue
		case OpFlag:
			if len(s.Flags) == 0 {
				return fmt.Errorf("pipeline step %s: flag requires at least one layer", s.Name)
			}
			for _, f := range s.Flags {
				if (f.Asset == "") == (f.Image == "") {
					return fmt.Errorf("pipeline step %s: flag layer %s needs exactly one of asset or image", s.Name, f.Name)
				}
			}
		case OpRandomSample:
			if s.Size <= 0 {
				return fmt.Errorf("pipeline step %s: random_sample requires size > 0", s.Name)
			}
		case OpSamplerDates:
			if s.YearProperty == "" || s.EndDate == "" {
				return fmt.Errorf("pipeline step %s: sampler_dates requires year_property and end_date", s.Name)
			}
		case OpFilterUnflagged, OpReferenceBuffer, OpBuffer, OpInwardDilation:
		default:
			return fmt.Errorf("pipeline step %s: unknown op %q", s.Name, s.Op)
		}
		if s.Input == "" {
			return fmt.Errorf("pipeline step %s: input required", s.Name)
		}
	}
	return nil
}
