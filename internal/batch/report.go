package batch

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ajitpratap0/lasprep/internal/cleaning"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/json"
)

// Failure describes one file that could not be processed.
type Failure struct {
	Path      string `json:"path"`
	Stage     string `json:"stage"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// Report aggregates the outcome of a run. It is filled by a single goroutine.
type Report struct {
	Root          string        `json:"root"`
	Total         int           `json:"total"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	PointsWritten uint64        `json:"points_written"`
	PointsDropped int           `json:"points_dropped"`
	Failures      []Failure     `json:"failures"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// NewReport creates an empty report for root.
func NewReport(root string, total int) *Report {
	return &Report{Root: root, Total: total, Failures: []Failure{}, StartedAt: time.Now()}
}

// Add records a cleaning result.
func (r *Report) Add(res cleaning.Result) {
	if res.Success {
		r.Succeeded++
		r.PointsWritten += res.PointsWritten
		r.PointsDropped += res.PointsDropped
		return
	}
	r.AddFailure(Failure{
		Path:      res.Path,
		Stage:     string(res.Stage),
		ErrorType: res.ErrorType,
		Message:   res.Message,
	})
}

// AddSuccess records a file processed without a cleaning result.
func (r *Report) AddSuccess() { r.Succeeded++ }

// AddFailure records a failed file.
func (r *Report) AddFailure(f Failure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}

// AddUnreadable records a directory that could not be listed. It counts
// toward Total so the tally still adds up.
func (r *Report) AddUnreadable(f Failure) {
	r.Total++
	r.AddFailure(f)
}

// FailureFor builds a Failure from an error.
func FailureFor(path, stage string, err error) Failure {
	return Failure{
		Path:      path,
		Stage:     stage,
		ErrorType: string(errors.RootType(err)),
		Message:   err.Error(),
	}
}

// Finish stamps the duration and orders failures by path.
func (r *Report) Finish() {
	r.Duration = time.Since(r.StartedAt)
	slices.SortStableFunc(r.Failures, func(a, b Failure) int { return strings.Compare(a.Path, b.Path) })
}

// OK reports whether every file succeeded.
func (r *Report) OK() bool { return r.Failed == 0 }

// Summary renders the final tally followed by one line per failure.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files: %d succeeded, %d failed", r.Total, r.Succeeded, r.Failed)
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n  %s [%s] %s", f.Path, f.Stage, f.Message)
	}
	return b.String()
}

// WriteJSON writes the report to path.
func (r *Report) WriteJSON(path string) error {
	if err := json.WriteFile(path, r); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "writing report").WithDetail("path", path)
	}
	return nil
}
