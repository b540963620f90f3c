package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration file.
const DefaultPath = ".leafprep/config.yaml"

// Config holds all leafprep configuration.
type Config struct {
	EarthEngine EarthEngineConfig `yaml:"earth_engine"`
	Assets      AssetsConfig      `yaml:"assets"`
	Tasks       TasksConfig       `yaml:"tasks"`
	Data        DataConfig        `yaml:"data"`
	Staging     StagingConfig     `yaml:"staging"`

	Datasets []DatasetConfig `yaml:"datasets"`
	Sources  []SourceConfig  `yaml:"sources"`
	Pipeline []StepConfig    `yaml:"pipeline"`
	Sampler  SamplerConfig   `yaml:"sampler"`

	Logging LoggingConfig `yaml:"logging"`
}

// EarthEngineConfig configures the REST client.
type EarthEngineConfig struct {
	Project           string  `yaml:"project"`
	Endpoint          string  `yaml:"endpoint"`
	CredentialsFile   string  `yaml:"credentials_file,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestTimeout    string  `yaml:"request_timeout"`
	PayloadLimitBytes int     `yaml:"payload_limit_bytes"`
}

// AssetsConfig names the asset folder every relative asset name resolves against.
type AssetsConfig struct {
	Root string `yaml:"root"`
}

// TasksConfig configures operation polling.
type TasksConfig struct {
	PollInterval string `yaml:"poll_interval"`
}

// DataConfig configures local directories.
type DataConfig struct {
	DownloadDir         string `yaml:"download_dir"`
	OutputDir           string `yaml:"output_dir"`
	StateDir            string `yaml:"state_dir"`
	LedgerPath          string `yaml:"ledger_path"`
	DownloadConcurrency int    `yaml:"download_concurrency"`
}

// StagingConfig enables Cloud Storage staged table imports when Bucket is set.
type StagingConfig struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// DatasetConfig is a downloadable institutional archive.
type DatasetConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// SourceConfig is a local vector layer that can be ingested as an asset.
type SourceConfig struct {
	Name    string            `yaml:"name"`
	Path    string            `yaml:"path"`
	Layer   string            `yaml:"layer,omitempty"`
	Kind    string            `yaml:"kind"`             // gdb, shp, geojson
	Filter  string            `yaml:"filter,omitempty"` // reclaimed_wells
	Match   map[string]string `yaml:"match,omitempty"`  // column == value after name cleaning
	Columns []string          `yaml:"columns,omitempty"`
	Drop    []string          `yaml:"drop,omitempty"`
	Rename  map[string]string `yaml:"rename,omitempty"` // applied last
	Limit   int               `yaml:"limit,omitempty"`
}

// SamplerConfig configures LEAF sampler batch preparation.
type SamplerConfig struct {
	Source           string                  `yaml:"source"`
	BatchSize        int                     `yaml:"batch_size"`
	BatchPrefix      string                  `yaml:"batch_prefix"`
	ImageCollections []ImageCollectionConfig `yaml:"image_collections"`
}

// ImageCollectionConfig names an EE image collection the sampler runs against.
type ImageCollectionConfig struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		EarthEngine: EarthEngineConfig{
			Endpoint:          "https://earthengine-highvolume.googleapis.com",
			RequestsPerSecond: 5,
			RequestTimeout:    "120s",
			PayloadLimitBytes: 10485760,
		},
		Tasks: TasksConfig{
			PollInterval: "10s",
		},
		Data: DataConfig{
			DownloadDir:         "data",
			OutputDir:           "output",
			StateDir:            ".leafprep",
			LedgerPath:          ".leafprep/ledger.db",
			DownloadConcurrency: 3,
		},
		Datasets: []DatasetConfig{
			{Name: "hfi2021", URL: "https://ftp-public.abmi.ca/GISData/HumanFootprint/2021/HFI2021.gdb.zip"},
			{Name: "lulc2020", URL: "https://static.ags.aer.ca/files/document/DIG/DIG_2021_0019.zip"},
			{Name: "nfdb", URL: "https://cwfis.cfs.nrcan.gc.ca/downloads/nfdb/fire_poly/current_version/NFDB_poly.zip"},
		},
		Sources: []SourceConfig{
			{
				Name:   "abandoned_wells",
				Path:   "data/HFI2021.gdb",
				Layer:  "o16_WellsAbnd_HFI_2021",
				Kind:   "gdb",
				Filter: FilterReclaimedWells,
				Drop:   []string{"first_spud_date"},
				Rename: map[string]string{"reclamation_date": "rclmtn_d"},
			},
			{
				Name:    "reservoirs",
				Path:    "data/HFI2021.gdb",
				Layer:   "o01_Reservoirs_HFI_2021",
				Kind:    "gdb",
				Columns: []string{"feature_ty"},
			},
			{
				Name:    "industrial",
				Path:    "data/HFI2021.gdb",
				Layer:   "o08_Industrials_HFI_2021",
				Kind:    "gdb",
				Columns: []string{"feature_ty"},
			},
			{
				Name:    "residentials",
				Path:    "data/HFI2021.gdb",
				Layer:   "o15_Residentials_HFI_2021",
				Kind:    "gdb",
				Columns: []string{"feature_ty"},
			},
			{
				Name:    "roads",
				Path:    "data/HFI2021.gdb",
				Layer:   "o03_Roads_HFI_2021",
				Kind:    "gdb",
				Columns: []string{"feature_ty"},
			},
			{
				Name:  "fires",
				Path:  "data/NFDB_poly_20210707.shp",
				Kind:  "shp",
				Match: map[string]string{"src_agency": "AB"},
			},
		},
		Pipeline: DefaultPipeline(),
		Sampler: SamplerConfig{
			Source:      "random_sample_1000_filtered_abandoned_wells_dated",
			BatchSize:   20,
			BatchPrefix: "temp_batch",
			ImageCollections: []ImageCollectionConfig{
				{Name: "LANDSAT/LC08/C02/T1_L2", Label: "LC08"},
				{Name: "LANDSAT/LC09/C02/T1_L2", Label: "LC09"},
				{Name: "COPERNICUS/S2_SR_HARMONIZED", Label: "S2"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, after loading an optional .env
// file next to it. A missing config file yields the defaults.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(filepath.Dir(path)), ".env"))

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding variables already set.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EE_PROJECT"); v != "" {
		c.EarthEngine.Project = v
	}
	if v := os.Getenv("EE_ENDPOINT"); v != "" {
		c.EarthEngine.Endpoint = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.EarthEngine.CredentialsFile = v
	}
	if v := os.Getenv("LEAFPREP_ASSET_ROOT"); v != "" {
		c.Assets.Root = v
	}
	if v := os.Getenv("LEAFPREP_STAGING_BUCKET"); v != "" {
		c.Staging.Bucket = v
	}
	if v := os.Getenv("LEAFPREP_LEDGER"); v != "" {
		c.Data.LedgerPath = v
	}
	if v := os.Getenv("LEAFPREP_DATA_DIR"); v != "" {
		c.Data.DownloadDir = v
	}
}

// GetPollInterval returns the task poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Tasks.PollInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetRequestTimeout returns the per-request Earth Engine timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.EarthEngine.RequestTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// AssetID resolves a pipeline asset name against the asset root. Names that
// are already full ids (projects/... or users/...) are returned unchanged.
func (c *Config) AssetID(name string) string {
	if strings.HasPrefix(name, "projects/") || strings.HasPrefix(name, "users/") {
		return name
	}
	return strings.TrimSuffix(c.Assets.Root, "/") + "/" + name
}

// Source returns the named source configuration.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Validate validates the configuration needed to talk to Earth Engine.
func (c *Config) Validate() error {
	if c.EarthEngine.Project == "" {
		return fmt.Errorf("earth_engine.project not configured (set EE_PROJECT)")
	}
	if c.Assets.Root == "" {
		return fmt.Errorf("assets.root not configured (set LEAFPREP_ASSET_ROOT)")
	}
	if !strings.HasPrefix(c.Assets.Root, "projects/") && !strings.HasPrefix(c.Assets.Root, "users/") {
		return fmt.Errorf("assets.root must start with projects/ or users/: %s", c.Assets.Root)
	}
	if c.EarthEngine.PayloadLimitBytes <= 0 {
		return fmt.Errorf("earth_engine.payload_limit_bytes must be positive")
	}
	if err := validatePipeline(c.Pipeline); err != nil {
		return err
	}
	for _, s := range c.Sources {
		switch s.Kind {
		case "gdb", "shp", "geojson":
		default:
			return fmt.Errorf("source %s: unknown kind %q (valid: gdb, shp, geojson)", s.Name, s.Kind)
		}
	}
	return nil
}
