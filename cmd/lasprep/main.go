package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/lasprep/internal/backup"
	"github.com/ajitpratap0/lasprep/internal/batch"
	"github.com/ajitpratap0/lasprep/internal/cleaning"
	"github.com/ajitpratap0/lasprep/pkg/config"
	"github.com/ajitpratap0/lasprep/pkg/compression"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/las"
	"github.com/ajitpratap0/lasprep/pkg/logger"
	"github.com/ajitpratap0/lasprep/pkg/metrics"
	"github.com/ajitpratap0/lasprep/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{v: config.NewViper(), stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// app holds the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	stdout  io.Writer
	stderr  io.Writer

	cfg     *config.Config
	log     *zap.Logger
	runID   string
	metrics *metrics.Collector
	report  *batch.Report

	shutdownTracing observability.ShutdownFunc
	traceFile       *os.File
}

// flagBindings maps persistent flags to configuration keys.
var flagBindings = map[string]string{
	"log-level":    "observability.log_level",
	"log-format":   "observability.log_format",
	"workers":      "cleaning.workers",
	"converter":    "converter.path",
	"laszip":       "laz.laszip_path",
	"metrics-file": "observability.metrics_file",
	"report-file":  "observability.report_file",
	"trace":        "observability.enable_tracing",
}

func (a *app) bindFlags(cmd *cobra.Command, bindings map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for flag, key := range bindings {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
}

// setup loads configuration and initializes logging, metrics and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	cmd.SilenceUsage = true

	cfg, err := config.LoadWith(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogFormat,
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "initializing logger")
	}
	a.runID = uuid.NewString()
	a.log = logger.Get().With(zap.String("component", "lasprep-cli"))
	cmd.SetContext(context.WithValue(cmd.Context(), logger.RunIDKey, a.runID))

	a.metrics = metrics.NewCollector()

	tracing := observability.TracingConfig{
		Enabled:        cfg.Observability.EnableTracing,
		ServiceName:    "lasprep",
		ServiceVersion: version,
		SamplingRate:   cfg.Observability.TracingSampleRate,
		Output:         a.stderr,
	}
	if cfg.Observability.EnableTracing && cfg.Observability.TraceFile != "" {
		f, err := os.Create(cfg.Observability.TraceFile)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "creating trace file")
		}
		a.traceFile = f
		tracing.Output = f
	}
	a.shutdownTracing, err = observability.InitTracing(tracing)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "initializing tracing")
	}

	logger.FromContext(cmd.Context(), a.log).Debug("configuration loaded",
		zap.String("config_file", a.cfgFile),
		zap.Int("workers", cfg.Cleaning.GetWorkers()),
		zap.String("converter", cfg.Converter.Path))
	return nil
}

// finish writes the report and metrics and flushes tracing and logs.
func (a *app) finish(ctx context.Context) {
	if a.cfg == nil {
		return
	}
	obs := a.cfg.Observability
	if a.report != nil && obs.ReportFile != "" {
		if err := a.report.WriteJSON(obs.ReportFile); err != nil {
			a.log.Warn("failed to write report", logger.ErrorFields(err)...)
		}
	}
	if obs.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(obs.MetricsFile); err != nil {
			a.log.Warn("failed to write metrics", logger.ErrorFields(err)...)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
	}
	if a.traceFile != nil {
		a.traceFile.Close()
	}
	_ = logger.Sync()
}

// cleaner builds a file cleaner from the loaded configuration.
func (a *app) cleaner() (*cleaning.Cleaner, error) {
	cfg := a.cfg
	opts := []cleaning.Option{
		cleaning.WithDefaults(a.cleaningOptions()),
		cleaning.WithMetrics(a.metrics),
	}
	if cfg.LAZ.LaszipPath != "" {
		opts = append(opts, cleaning.WithTranscoder(las.NewTranscoder(cfg.LAZ.LaszipPath, cfg.LAZ.TempDir)))
	}
	if cfg.Backup.Enabled {
		store, err := backup.NewStore(cfg.Backup.Dir, cfg.Backup.BackupAlgorithm(), compression.Level(cfg.Backup.Level))
		if err != nil {
			return nil, err
		}
		opts = append(opts, cleaning.WithBackups(store))
	}
	return cleaning.NewCleaner(a.log, opts...), nil
}

func (a *app) cleaningOptions() cleaning.Options {
	return cleaning.Options{
		Sort:               a.cfg.Cleaning.Sort,
		AddDebugDimensions: a.cfg.Cleaning.AddDebugDimensions,
		OverridePointCount: a.cfg.Cleaning.OverridePointCount,
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "lasprep v%s\n", version)
			fmt.Fprintf(a.stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
