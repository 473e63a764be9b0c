package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/lasprep/pkg/errors"
)

// EnvPrefix prefixes environment overrides: LASPREP_CLEANING_WORKERS sets
// cleaning.workers.
const EnvPrefix = "LASPREP"

// NewViper returns a viper instance carrying the defaults and bound to the
// environment. The CLI binds its flags into the same instance.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("converter.path", d.Converter.Path)
	v.SetDefault("converter.base_url", d.Converter.BaseURL)

	v.SetDefault("cleaning.workers", d.Cleaning.Workers)
	v.SetDefault("cleaning.sort", d.Cleaning.Sort)
	v.SetDefault("cleaning.add_debug_dimensions", d.Cleaning.AddDebugDimensions)
	v.SetDefault("cleaning.override_point_count", d.Cleaning.OverridePointCount)
	v.SetDefault("cleaning.progress_interval", d.Cleaning.ProgressInterval)

	v.SetDefault("laz.laszip_path", d.LAZ.LaszipPath)
	v.SetDefault("laz.temp_dir", d.LAZ.TempDir)

	v.SetDefault("backup.enabled", d.Backup.Enabled)
	v.SetDefault("backup.algorithm", d.Backup.Algorithm)
	v.SetDefault("backup.level", d.Backup.Level)
	v.SetDefault("backup.dir", d.Backup.Dir)

	v.SetDefault("disk.min_free_bytes", d.Disk.MinFreeBytes)

	v.SetDefault("observability.log_level", d.Observability.LogLevel)
	v.SetDefault("observability.log_format", d.Observability.LogFormat)
	v.SetDefault("observability.metrics_file", d.Observability.MetricsFile)
	v.SetDefault("observability.report_file", d.Observability.ReportFile)
	v.SetDefault("observability.enable_tracing", d.Observability.EnableTracing)
	v.SetDefault("observability.trace_file", d.Observability.TraceFile)
	v.SetDefault("observability.tracing_sample_rate", d.Observability.TracingSampleRate)
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith is Load using a prepared viper instance, typically one with
// command-line flags bound to it.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(err, errors.ErrorTypePathNotFound, "config file does not exist").
					WithDetail("path", path)
			}
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").WithDetail("path", path)
		}
		content := substituteEnvVars(string(data))
		if err := v.ReadConfig(strings.NewReader(content)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").WithDetail("path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").WithDetail("path", path)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
