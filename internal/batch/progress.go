package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Progress is a point-in-time view of a running batch.
type Progress struct {
	Completed int64         `json:"completed"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	Total     int64         `json:"total"`
	Elapsed   time.Duration `json:"elapsed"`
	ETA       time.Duration `json:"eta"`
}

// Percentage returns the completed share of the batch.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// ProgressFunc receives a snapshot after every completed file.
type ProgressFunc func(Progress)

// ProgressReporter tracks completed files and logs progress periodically
type ProgressReporter struct {
	logger   *zap.Logger
	callback ProgressFunc

	total     int64
	succeeded int64
	failed    int64
	startTime time.Time
	interval  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProgressReporter creates a reporter for total files. A zero interval
// disables periodic logging.
func NewProgressReporter(logger *zap.Logger, total int, interval time.Duration, callback ProgressFunc) *ProgressReporter {
	return &ProgressReporter{
		logger:    logger,
		callback:  callback,
		total:     int64(total),
		startTime: time.Now(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins periodic progress reporting
func (pr *ProgressReporter) Start() {
	if pr.interval <= 0 {
		return
	}
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		ticker := time.NewTicker(pr.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pr.stopCh:
				return
			case <-ticker.C:
				pr.report("progress update")
			}
		}
	}()
}

// Stop stops periodic reporting and logs a final summary. It is safe to
// call more than once.
func (pr *ProgressReporter) Stop() {
	pr.stopOnce.Do(func() {
		close(pr.stopCh)
		pr.wg.Wait()
		pr.report("batch completed")
	})
}

// Record counts one finished file and notifies the callback.
func (pr *ProgressReporter) Record(success bool) {
	if success {
		atomic.AddInt64(&pr.succeeded, 1)
	} else {
		atomic.AddInt64(&pr.failed, 1)
	}
	if pr.callback != nil {
		pr.callback(pr.Snapshot())
	}
}

// Snapshot returns the current progress.
func (pr *ProgressReporter) Snapshot() Progress {
	succeeded := atomic.LoadInt64(&pr.succeeded)
	failed := atomic.LoadInt64(&pr.failed)
	p := Progress{
		Completed: succeeded + failed,
		Succeeded: succeeded,
		Failed:    failed,
		Total:     pr.total,
		Elapsed:   time.Since(pr.startTime),
	}
	p.ETA = eta(p)
	return p
}

// eta estimates time remaining from the average rate so far.
func eta(p Progress) time.Duration {
	if p.Completed == 0 || p.Completed >= p.Total {
		return 0
	}
	perFile := p.Elapsed / time.Duration(p.Completed)
	return perFile * time.Duration(p.Total-p.Completed)
}

func (pr *ProgressReporter) report(msg string) {
	p := pr.Snapshot()
	fields := []zap.Field{
		zap.Int64("completed", p.Completed),
		zap.Int64("total", p.Total),
		zap.Int64("failed", p.Failed),
		zap.Float64("percentage", p.Percentage()),
		zap.Duration("elapsed", p.Elapsed),
	}
	if p.ETA > 0 {
		fields = append(fields, zap.Duration("eta", p.ETA))
	}
	pr.logger.Info(msg, fields...)
}
