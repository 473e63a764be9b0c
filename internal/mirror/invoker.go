package mirror

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/ajitpratap0/lasprep/internal/batch"
	"github.com/ajitpratap0/lasprep/internal/cleaning"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/logger"
	"github.com/ajitpratap0/lasprep/pkg/metrics"
	"github.com/ajitpratap0/lasprep/pkg/observability"
)

// FileCleaner cleans one file in place. *cleaning.Cleaner implements it.
type FileCleaner interface {
	Clean(ctx context.Context, path string) cleaning.Result
}

// InvokerConfig configures the converter subprocess.
type InvokerConfig struct {
	// ConverterPath is the octree converter executable.
	ConverterPath string
	// MinFreeBytes triggers a warning when the output volume has less free
	// space. Zero disables the check.
	MinFreeBytes uint64
}

// Invoker runs the external converter for one file at a time.
type Invoker struct {
	logger    *zap.Logger
	config    InvokerConfig
	cleaner   FileCleaner
	metrics   *metrics.Collector
	freeBytes func(ctx context.Context, path string) (uint64, error)
	output    io.Writer
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithCleaner sets the cleaner used when Convert is asked to clean first.
func WithCleaner(c FileCleaner) InvokerOption { return func(i *Invoker) { i.cleaner = c } }

// WithMetrics records conversions in collector.
func WithMetrics(m *metrics.Collector) InvokerOption { return func(i *Invoker) { i.metrics = m } }

// WithFreeSpace replaces the free-space probe used by the disk guard.
func WithFreeSpace(fn func(ctx context.Context, path string) (uint64, error)) InvokerOption {
	return func(i *Invoker) { i.freeBytes = fn }
}

// WithOutput streams the converter's stdout and stderr to w as it runs.
func WithOutput(w io.Writer) InvokerOption { return func(i *Invoker) { i.output = w } }

// NewInvoker creates an invoker.
func NewInvoker(log *zap.Logger, config InvokerConfig, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		logger:    log.With(zap.String("component", "converter")),
		config:    config,
		freeBytes: volumeFree,
		output:    io.Discard,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func volumeFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Stem returns the file name without its extension. It is the base name
// passed to the converter.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Convert optionally cleans file in place, ensures outDir exists and runs
// `<converter> <file> -o <outDir> -p <stem>` to completion. A cleaning
// failure is logged and conversion proceeds with the file as it is.
// A canceled ctx fails the call before the file is touched; once started,
// the converter runs to completion.
func (i *Invoker) Convert(ctx context.Context, file, outDir string, clean bool) (err error) {
	log := logger.FromContext(ctx, i.logger).With(zap.String("path", file), zap.String("output", outDir))

	ctx, span := observability.NewSpan(ctx, "mirror.convert")
	defer span.End()
	span.SetAttribute("path", file)

	timer := metrics.NewTimer()
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusFailure
			span.Fail(err)
			log.Error("conversion failed", logger.ErrorFields(err)...)
		}
		if i.metrics != nil {
			i.metrics.Converted(status, timer.Elapsed())
		}
	}()

	if i.config.ConverterPath == "" {
		return errors.New(errors.ErrorTypeConfig, "no converter executable configured")
	}
	if cerr := ctx.Err(); cerr != nil {
		return batch.CanceledError(cerr).WithDetail("path", file)
	}

	if clean {
		if i.cleaner == nil {
			log.Warn("cleaning requested but no cleaner configured")
		} else if res := i.cleaner.Clean(ctx, file); !res.Success {
			log.Warn("cleaning failed, converting file as is",
				zap.String("stage", string(res.Stage)),
				zap.String("error", res.Message))
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "creating output directory").WithDetail("path", outDir)
	}
	i.checkDisk(ctx, outDir, log)

	stem := Stem(file)
	cmd := exec.Command(i.config.ConverterPath, file, "-o", outDir, "-p", stem)
	var stderr bytes.Buffer
	out := &syncWriter{w: i.output}
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(&stderr, out)
	log.Info("running converter", zap.String("converter", i.config.ConverterPath), zap.String("name", stem))
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExternalTool, "converter failed").
			WithDetail("path", file).
			WithDetail("stderr", strings.TrimSpace(stderr.String()))
	}
	log.Info("converted file", zap.Duration("duration", timer.Elapsed()))
	return nil
}

// syncWriter serializes the stdout and stderr copy goroutines of one command.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (i *Invoker) checkDisk(ctx context.Context, dir string, log *zap.Logger) {
	if i.config.MinFreeBytes == 0 {
		return
	}
	free, err := i.freeBytes(ctx, dir)
	if err != nil {
		log.Debug("could not read free disk space", zap.Error(err))
		return
	}
	if free < i.config.MinFreeBytes {
		log.Warn("low free disk space on output volume",
			zap.Uint64("free_bytes", free),
			zap.Uint64("min_free_bytes", i.config.MinFreeBytes))
	}
}
