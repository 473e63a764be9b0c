package cleaning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/lasprep/internal/backup"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/las"
	"github.com/ajitpratap0/lasprep/pkg/logger"
	"github.com/ajitpratap0/lasprep/pkg/metrics"
	"github.com/ajitpratap0/lasprep/pkg/observability"
)

// Stage names the step a file was in when it failed.
type Stage string

const (
	StageLoad      Stage = "load"
	StageTranscode Stage = "transcode"
	StageReconcile Stage = "reconcile"
	StageBackup    Stage = "backup"
	StageWrite     Stage = "write"
	StageConvert   Stage = "convert"
)

// Task is one file to clean. It is a self-contained value so it can be sent
// to any worker.
type Task struct {
	Source string `json:"source"`
	// Destination defaults to Source, cleaning in place.
	Destination        string `json:"destination,omitempty"`
	Sort               bool   `json:"sort"`
	AddDebugDimensions bool   `json:"add_debug_dimensions"`
	OverridePointCount bool   `json:"override_point_count"`
}

// Result is the outcome of cleaning one file.
type Result struct {
	Path           string        `json:"path"`
	Destination    string        `json:"destination"`
	Success        bool          `json:"success"`
	Stage          Stage         `json:"stage,omitempty"`
	ErrorType      string        `json:"error_type,omitempty"`
	Message        string        `json:"message,omitempty"`
	Err            error         `json:"-"`
	PointsRead     int           `json:"points_read"`
	PointsDropped  int           `json:"points_dropped"`
	PointsWritten  uint64        `json:"points_written"`
	DroppedColumns []string      `json:"dropped_columns,omitempty"`
	Backup         string        `json:"backup,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Options are the per-task flags applied by Clean.
type Options struct {
	Sort               bool
	AddDebugDimensions bool
	OverridePointCount bool
}

// Cleaner cleans files one at a time. A Cleaner holds no per-file state and
// may be shared by concurrent workers.
type Cleaner struct {
	logger     *zap.Logger
	defaults   Options
	transcoder *las.Transcoder
	backups    *backup.Store
	metrics    *metrics.Collector
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithDefaults sets the flags Clean applies.
func WithDefaults(o Options) Option { return func(c *Cleaner) { c.defaults = o } }

// WithTranscoder enables LAZ input and output.
func WithTranscoder(t *las.Transcoder) Option { return func(c *Cleaner) { c.transcoder = t } }

// WithBackups keeps a compressed copy of each file before it is overwritten.
func WithBackups(s *backup.Store) Option { return func(c *Cleaner) { c.backups = s } }

// WithMetrics records outcomes in collector.
func WithMetrics(m *metrics.Collector) Option { return func(c *Cleaner) { c.metrics = m } }

// NewCleaner creates a cleaner.
func NewCleaner(log *zap.Logger, opts ...Option) *Cleaner {
	c := &Cleaner{logger: log.With(zap.String("component", "cleaner"))}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean cleans path in place with the cleaner's default flags.
func (c *Cleaner) Clean(ctx context.Context, path string) Result {
	return c.Run(ctx, Task{
		Source:             path,
		Sort:               c.defaults.Sort,
		AddDebugDimensions: c.defaults.AddDebugDimensions,
		OverridePointCount: c.defaults.OverridePointCount,
	})
}

// Run executes one task. Failures, including panics, are logged and
// returned in the Result; Run never returns an error or panics.
func (c *Cleaner) Run(ctx context.Context, task Task) (res Result) {
	start := time.Now()
	dest := task.Destination
	if dest == "" {
		dest = task.Source
	}
	res = Result{Path: task.Source, Destination: dest}
	log := logger.FromContext(ctx, c.logger).With(zap.String("path", task.Source))

	ctx, span := observability.NewSpan(ctx, "cleaning.clean")
	span.SetAttribute("path", task.Source)
	defer span.End()

	if c.metrics != nil {
		defer c.metrics.CleanStarted()()
	}

	defer func() {
		if r := recover(); r != nil {
			res.Stage = stageOr(res.Stage, StageLoad)
			res.Err = errors.Newf(errors.ErrorTypeInternal, "panic while cleaning: %v", r)
		}
		res.Duration = time.Since(start)
		c.finish(log, span, &res)
	}()

	res.Stage, res.Err = c.run(ctx, task, dest, &res, log)
	return res
}

func stageOr(s, fallback Stage) Stage {
	if s == "" {
		return fallback
	}
	return s
}

func (c *Cleaner) finish(log *zap.Logger, span *observability.Span, res *Result) {
	status := metrics.StatusSuccess
	if res.Err != nil {
		res.Success = false
		res.ErrorType = string(errors.RootType(res.Err))
		res.Message = res.Err.Error()
		status = metrics.StatusFailure
		span.Fail(res.Err)
		span.SetAttribute("stage", string(res.Stage))
		fields := append([]zap.Field{zap.String("stage", string(res.Stage))}, logger.ErrorFields(res.Err)...)
		log.Error("failed to clean file", fields...)
	} else {
		res.Success = true
		res.Stage = ""
		span.SetAttribute("points_written", res.PointsWritten)
		log.Info("cleaned file",
			zap.Int("points_read", res.PointsRead),
			zap.Int("points_dropped", res.PointsDropped),
			zap.Uint64("points_written", res.PointsWritten),
			zap.Duration("duration", res.Duration))
	}
	if c.metrics != nil {
		c.metrics.FileCleaned(status, res.Duration, int(res.PointsWritten), res.PointsDropped)
		c.metrics.ColumnsDropped(res.DroppedColumns...)
	}
}

func (c *Cleaner) run(ctx context.Context, task Task, dest string, res *Result, log *zap.Logger) (Stage, error) {
	src := task.Source
	header, err := las.ReadHeader(src)
	if err != nil {
		return StageLoad, errors.Wrap(err, errors.ErrorTypeFileProcessing, "reading header")
	}

	work := src
	if header.Compressed || las.IsLAZPath(src) {
		decompressed, cleanup, err := c.transcoder.Decompress(ctx, src)
		if err != nil {
			return StageTranscode, err
		}
		defer cleanup()
		work = decompressed
	}

	compressOut := las.IsLAZPath(dest)
	if compressOut && !c.transcoder.Available() {
		return StageTranscode, errors.New(errors.ErrorTypeCapability,
			"LAZ output requires a configured laszip executable").WithDetail("path", dest)
	}

	loaded, err := LoadFile(work, task.Sort, ModeFeatures)
	if err != nil {
		return StageLoad, err
	}
	res.PointsRead = loaded.Read
	res.PointsDropped = loaded.Dropped
	if loaded.Records.Len() == 0 {
		return StageLoad, errors.Newf(errors.ErrorTypeEmptyRecordSet,
			"no valid point records remain out of %d; file left unchanged", loaded.Read)
	}
	log.Debug("loaded point records", zap.Stringer("load", loaded))

	h, err := Reconcile(loaded.Records, ReconcileOptions{
		Reference:          loaded.Header,
		OverridePointCount: task.OverridePointCount,
		AddDebugDimensions: task.AddDebugDimensions,
	})
	if err != nil {
		return StageReconcile, err
	}

	if c.backups != nil && samePath(src, dest) {
		saved, err := c.backups.Save(src)
		if err != nil {
			return StageBackup, err
		}
		res.Backup = saved
		log.Debug("backed up original", zap.String("backup", saved))
	}

	target := dest
	if compressOut {
		dir, err := os.MkdirTemp(c.transcoder.TempDir, "lasprep-out-")
		if err != nil {
			return StageWrite, errors.Wrap(err, errors.ErrorTypeFile, "creating transcode directory")
		}
		defer os.RemoveAll(dir)
		target = filepath.Join(dir, strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))+".las")
	}

	stats, err := Write(loaded.Records, h, target)
	if err != nil {
		return StageWrite, err
	}
	res.PointsWritten = stats.Points
	res.DroppedColumns = stats.DroppedColumns
	if len(stats.DroppedColumns) > 0 {
		log.Debug("dropped columns absent from destination format",
			zap.Strings("columns", stats.DroppedColumns))
	}

	if compressOut {
		if err := c.transcoder.Compress(ctx, target, dest); err != nil {
			return StageTranscode, err
		}
	}
	return "", nil
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(ai, bi)
}

// Summary renders a one-line description of the result.
func (r Result) Summary() string {
	if r.Success {
		return fmt.Sprintf("%s: %d points written, %d dropped", r.Path, r.PointsWritten, r.PointsDropped)
	}
	return fmt.Sprintf("%s: failed at %s: %s", r.Path, r.Stage, r.Message)
}
