package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/lasprep/internal/cleaning"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/logger"
	"github.com/ajitpratap0/lasprep/pkg/metrics"
	"github.com/ajitpratap0/lasprep/pkg/observability"
)

// Task is the unit of work sent to a worker.
type Task = cleaning.Task

// Processor cleans a single task. *cleaning.Cleaner implements it.
type Processor interface {
	Run(ctx context.Context, task cleaning.Task) cleaning.Result
}

// Config configures a Runner.
type Config struct {
	Workers          int           // 0 = runtime.NumCPU()
	ProgressInterval time.Duration // 0 disables periodic progress logs
	Options          cleaning.Options
}

// Runner cleans every file under a root in parallel.
type Runner struct {
	logger     *zap.Logger
	processor  Processor
	config     Config
	metrics    *metrics.Collector
	onProgress ProgressFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records run completion in collector.
func WithMetrics(m *metrics.Collector) Option { return func(r *Runner) { r.metrics = m } }

// WithProgress registers a callback invoked after every completed file.
func WithProgress(fn ProgressFunc) Option { return func(r *Runner) { r.onProgress = fn } }

// NewRunner creates a runner dispatching tasks to processor.
func NewRunner(logger *zap.Logger, processor Processor, config Config, opts ...Option) *Runner {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	r := &Runner{
		logger:    logger.With(zap.String("component", "batch")),
		processor: processor,
		config:    config,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run discovers the files under root and cleans them. Only a missing or
// unreadable root is returned as an error; per-file failures are collected
// into the Report.
func (r *Runner) Run(ctx context.Context, root string) (*Report, error) {
	paths, skipped, err := Discover(root)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.NewSpan(ctx, "batch.run")
	defer span.End()
	span.SetAttribute("root", root)
	span.SetAttribute("files", len(paths))

	log := logger.FromContext(ctx, r.logger)
	report := NewReport(root, len(paths))
	for _, f := range skipped {
		log.Warn("skipping unreadable directory", zap.String("path", f.Path), zap.String("error", f.Message))
		report.AddUnreadable(f)
	}
	workers := min(r.config.Workers, max(len(paths), 1))
	log.Info("starting batch",
		zap.String("root", root),
		zap.Int("files", len(paths)),
		zap.Int("workers", workers))

	progress := NewProgressReporter(log, len(paths), r.config.ProgressInterval, r.onProgress)
	progress.Start()

	tasks := make(chan Task)
	results := make(chan cleaning.Result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx, tasks, results)
		}()
	}

	go func() {
		defer close(tasks)
		for _, path := range paths {
			tasks <- r.task(path)
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		report.Add(res)
		progress.Record(res.Success)
	}
	progress.Stop()
	report.Finish()

	span.SetAttribute("failed", report.Failed)
	if r.metrics != nil {
		r.metrics.RunFinished(time.Now())
	}
	log.Info("batch finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (r *Runner) task(path string) Task {
	return Task{
		Source:             path,
		Sort:               r.config.Options.Sort,
		AddDebugDimensions: r.config.Options.AddDebugDimensions,
		OverridePointCount: r.config.Options.OverridePointCount,
	}
}

func (r *Runner) worker(ctx context.Context, tasks <-chan Task, results chan<- cleaning.Result) {
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			cerr := CanceledError(err)
			results <- cleaning.Result{
				Path:      task.Source,
				Stage:     cleaning.StageLoad,
				ErrorType: string(cerr.Type),
				Message:   cerr.Error(),
				Err:       cerr,
			}
			continue
		}
		results <- r.process(ctx, task)
	}
}

// CanceledError marks work skipped because the run's context ended.
func CanceledError(cause error) *errors.Error {
	return errors.Wrap(cause, errors.ErrorTypeInternal, "run canceled")
}

// process runs one task, converting a panic in the processor into a
// failed result.
func (r *Runner) process(ctx context.Context, task Task) (res cleaning.Result) {
	defer func() {
		if p := recover(); p != nil {
			err := errors.Newf(errors.ErrorTypeInternal, "panic while processing %s: %v", task.Source, p)
			r.logger.Error("worker recovered from panic",
				zap.String("path", task.Source),
				zap.String("trace", err.StackTrace()))
			res = cleaning.Result{
				Path:      task.Source,
				Stage:     cleaning.StageLoad,
				ErrorType: string(err.Type),
				Message:   err.Error(),
				Err:       err,
			}
		}
	}()
	return r.processor.Run(ctx, task)
}
