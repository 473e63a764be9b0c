package cleaning

import (
	"os"
	"path/filepath"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/lasprep/internal/backup"
	"github.com/ajitpratap0/lasprep/pkg/compression"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/las"
	"github.com/ajitpratap0/lasprep/pkg/metrics"
	"github.com/ajitpratap0/lasprep/pkg/testutil"
)

func TestCleanLAZWithoutTranscoder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.laz")
	testutil.WriteCloud(t, path, testutil.LegacyCloud(), testutil.RandomPoints(10, 1))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	res := NewCleaner(testutil.TestLogger(t)).Clean(t.Context(), path)
	assert.False(t, res.Success)
	assert.Equal(t, StageTranscode, res.Stage)
	assert.Equal(t, string(errors.ErrorTypeCapability), res.ErrorType)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCleanLAZOutputWithoutTranscoder(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tile.las")
	testutil.WriteCloud(t, src, testutil.LegacyCloud(), testutil.RandomPoints(10, 1))

	res := NewCleaner(testutil.TestLogger(t)).Run(t.Context(), Task{
		Source:      src,
		Destination: filepath.Join(dir, "tile.laz"),
	})
	assert.False(t, res.Success)
	assert.Equal(t, string(errors.ErrorTypeCapability), res.ErrorType)
	assert.NoFileExists(t, filepath.Join(dir, "tile.laz"))
}

func TestCleanLAZRoundTrip(t *testing.T) {
	dir := t.TempDir()
	// The fake laszip copies its input, so the ".laz" fixture holds plain LAS.
	laszip := testutil.WriteScript(t, dir, "laszip", `cp "$2" "$4"`)
	path := filepath.Join(dir, "tile.laz")
	testutil.WriteCloud(t, path, testutil.LegacyCloud(), testutil.RandomPoints(25, 2))

	c := NewCleaner(testutil.TestLogger(t), WithTranscoder(las.NewTranscoder(laszip, dir)))
	res := c.Clean(t.Context(), path)
	require.True(t, res.Success, res.Message)

	h, out := testutil.ReadCloud(t, path)
	assert.Equal(t, TargetVersion, h.Version)
	assert.Equal(t, 25, out.Len())

	leftovers, err := filepath.Glob(filepath.Join(dir, "lasprep-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "transcode directories are removed")
}

func TestCleanLAZToolFailure(t *testing.T) {
	dir := t.TempDir()
	laszip := testutil.WriteScript(t, dir, "laszip", "echo broken >&2; exit 3")
	path := filepath.Join(dir, "tile.laz")
	testutil.WriteCloud(t, path, testutil.LegacyCloud(), testutil.RandomPoints(5, 2))

	c := NewCleaner(testutil.TestLogger(t), WithTranscoder(las.NewTranscoder(laszip, dir)))
	res := c.Clean(t.Context(), path)
	assert.False(t, res.Success)
	assert.Equal(t, StageTranscode, res.Stage)
	assert.Equal(t, string(errors.ErrorTypeExternalTool), res.ErrorType)
}

func TestCleanWritesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.las")
	testutil.WriteCloud(t, path, testutil.LegacyCloud(), testutil.RandomPoints(30, 3))
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	store, err := backup.NewStore(filepath.Join(dir, "backups"), compression.Zstd, compression.Default)
	require.NoError(t, err)
	c := NewCleaner(testutil.TestLogger(t), WithBackups(store))

	res := c.Clean(t.Context(), path)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, store.PathFor(path), res.Backup)
	assert.FileExists(t, res.Backup)

	restored, err := backup.Restore(res.Backup, filepath.Join(dir, "restored.las"))
	require.NoError(t, err)
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestCleanToSeparateDestinationSkipsBackup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tile.las")
	dst := filepath.Join(dir, "clean.las")
	testutil.WriteCloud(t, src, testutil.LegacyCloud(), testutil.RandomPoints(30, 3))
	original, err := os.ReadFile(src)
	require.NoError(t, err)

	store, err := backup.NewStore("", compression.Gzip, compression.Fastest)
	require.NoError(t, err)
	res := NewCleaner(testutil.TestLogger(t), WithBackups(store)).Run(t.Context(), Task{Source: src, Destination: dst})
	require.True(t, res.Success, res.Message)
	assert.Empty(t, res.Backup)

	untouched, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, original, untouched)
	h, _ := testutil.ReadCloud(t, dst)
	assert.Equal(t, uint8(TargetPointFormat), h.PointFormat)
}

func TestCleanRecordsMetrics(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.las")
	bad := filepath.Join(dir, "bad.las")
	testutil.WriteCloud(t, good, testutil.LegacyCloud(), testutil.RandomPoints(12, 4))
	testutil.WriteCorruptCloud(t, bad)

	m := metrics.NewCollector()
	c := NewCleaner(testutil.TestLogger(t), WithMetrics(m))
	require.True(t, c.Clean(t.Context(), good).Success)
	require.False(t, c.Clean(t.Context(), bad).Success)

	n, err := promtestutil.GatherAndCount(m.Registry(), "lasprep_files_cleaned_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per status")
	n, err = promtestutil.GatherAndCount(m.Registry(), "lasprep_points_written_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanLogsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.las")
	core, logs := observer.New(zapcore.DebugLevel)

	res := NewCleaner(zap.New(core)).Clean(t.Context(), path)
	assert.False(t, res.Success)
	assert.Equal(t, string(errors.ErrorTypePathNotFound), res.ErrorType)

	entries := logs.FilterMessage("failed to clean file").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, path, fields["path"])
	assert.Equal(t, string(StageLoad), fields["stage"])
	assert.Equal(t, string(errors.ErrorTypePathNotFound), fields["root_type"])
	assert.NotEmpty(t, fields["trace"])
}

func TestResultSummary(t *testing.T) {
	ok := Result{Path: "a.las", Success: true, PointsWritten: 10, PointsDropped: 2}
	assert.Equal(t, "a.las: 10 points written, 2 dropped", ok.Summary())

	failed := Result{Path: "b.las", Stage: StageWrite, Message: "disk full"}
	assert.Equal(t, "b.las: failed at write: disk full", failed.Summary())
}
