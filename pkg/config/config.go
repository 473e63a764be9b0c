package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ajitpratap0/lasprep/pkg/compression"
	"github.com/ajitpratap0/lasprep/pkg/errors"
)

// Config is the complete lasprep configuration. Every section can be set
// from the YAML file, from LASPREP_<SECTION>_<KEY> environment variables or
// from command-line flags, in increasing order of precedence.
type Config struct {
	// Converter configures the external octree converter
	Converter ConverterConfig `yaml:"converter" mapstructure:"converter" json:"converter"`

	// Cleaning controls how point records are cleaned
	Cleaning CleaningConfig `yaml:"cleaning" mapstructure:"cleaning" json:"cleaning"`

	// LAZ configures transcoding of compressed files
	LAZ LAZConfig `yaml:"laz" mapstructure:"laz" json:"laz"`

	// Backup configures copies of files cleaned in place
	Backup BackupConfig `yaml:"backup" mapstructure:"backup" json:"backup"`

	// Disk configures the free-space guard
	Disk DiskConfig `yaml:"disk" mapstructure:"disk" json:"disk"`

	// Observability configures logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability" json:"observability"`
}

// ConverterConfig locates the octree converter and the viewer serving its
// output.
type ConverterConfig struct {
	// Path is the converter executable
	Path string `yaml:"path" mapstructure:"path" json:"path"`
	// BaseURL prefixes the viewer link printed after a conversion
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
}

// CleaningConfig contains cleaning and batch settings.
type CleaningConfig struct {
	// Workers is the batch worker pool size (0 = number of CPUs)
	Workers            int           `yaml:"workers" mapstructure:"workers" json:"workers"`
	Sort               bool          `yaml:"sort" mapstructure:"sort" json:"sort"`
	AddDebugDimensions bool          `yaml:"add_debug_dimensions" mapstructure:"add_debug_dimensions" json:"add_debug_dimensions"`
	OverridePointCount bool          `yaml:"override_point_count" mapstructure:"override_point_count" json:"override_point_count"`
	ProgressInterval   time.Duration `yaml:"progress_interval" mapstructure:"progress_interval" json:"progress_interval"`
}

// LAZConfig contains LAZ transcoding settings.
type LAZConfig struct {
	// LaszipPath is the laszip executable. Empty disables LAZ support.
	LaszipPath string `yaml:"laszip_path" mapstructure:"laszip_path" json:"laszip_path"`
	// TempDir holds decompressed copies (empty = system default)
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir" json:"temp_dir"`
}

// BackupConfig contains backup settings.
type BackupConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	// Algorithm is one of none, gzip, lz4, zstd, s2
	Algorithm string `yaml:"algorithm" mapstructure:"algorithm" json:"algorithm"`
	// Level trades speed for ratio (1-9)
	Level int `yaml:"level" mapstructure:"level" json:"level"`
	// Dir receives backups (empty = next to each file)
	Dir string `yaml:"dir" mapstructure:"dir" json:"dir"`
}

// DiskConfig contains the free-space guard threshold.
type DiskConfig struct {
	// MinFreeBytes warns before a conversion when the output volume has
	// less free space (0 = disabled)
	MinFreeBytes uint64 `yaml:"min_free_bytes" mapstructure:"min_free_bytes" json:"min_free_bytes"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	// LogFormat is json or console
	LogFormat string `yaml:"log_format" mapstructure:"log_format" json:"log_format"`
	// MetricsFile receives a node-exporter textfile on exit
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file" json:"metrics_file"`
	// ReportFile receives the JSON run report
	ReportFile string `yaml:"report_file" mapstructure:"report_file" json:"report_file"`
	// EnableTracing exports spans to TraceFile, or stderr when it is empty
	EnableTracing     bool    `yaml:"enable_tracing" mapstructure:"enable_tracing" json:"enable_tracing"`
	TraceFile         string  `yaml:"trace_file" mapstructure:"trace_file" json:"trace_file"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" mapstructure:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Converter: ConverterConfig{
			Path:    "/app/PotreeConverter/build/PotreeConverter",
			BaseURL: "http://localhost:1234/pointclouds",
		},
		Cleaning: CleaningConfig{
			Workers:          runtime.NumCPU(),
			ProgressInterval: 10 * time.Second,
		},
		Backup: BackupConfig{
			Enabled:   false,
			Algorithm: string(compression.Zstd),
			Level:     int(compression.Default),
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "console",
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks that values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Cleaning.Workers < 0 {
		return invalid("cleaning.workers cannot be negative")
	}
	if c.Cleaning.ProgressInterval < 0 {
		return invalid("cleaning.progress_interval cannot be negative")
	}
	if _, err := compression.ParseAlgorithm(c.Backup.Algorithm); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid backup.algorithm")
	}
	if c.Backup.Level < 1 || c.Backup.Level > 9 {
		return invalid(fmt.Sprintf("backup.level must be between 1 and 9, got %d", c.Backup.Level))
	}
	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("unknown observability.log_level %q", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		return invalid(fmt.Sprintf("unknown observability.log_format %q", c.Observability.LogFormat))
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return invalid("observability.tracing_sample_rate must be between 0 and 1")
	}
	return nil
}

func invalid(msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg)
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (c *CleaningConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// BackupAlgorithm returns the parsed backup algorithm. Call Validate first.
func (b *BackupConfig) BackupAlgorithm() compression.Algorithm {
	a, _ := compression.ParseAlgorithm(b.Algorithm)
	return a
}

// ViewerURL returns the link at which a converted input is served.
func (c *ConverterConfig) ViewerURL(name string) string {
	return fmt.Sprintf("%s/%s", c.BaseURL, name)
}
