package mirror

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/lasprep/internal/batch"
	"github.com/ajitpratap0/lasprep/internal/cleaning"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/metrics"
	"github.com/ajitpratap0/lasprep/pkg/testutil"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("points"), 0o644))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestPlan(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(filepath.Join(in, "A", "B"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(in, "C"), 0o755))
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(in, "linked")))

	pairs, err := Plan(in, out)
	require.NoError(t, err)
	assert.Equal(t, []DirPair{
		{Input: in, Output: out},
		{Input: filepath.Join(in, "A"), Output: filepath.Join(out, "A")},
		{Input: filepath.Join(in, "A", "B"), Output: filepath.Join(out, "A", "B")},
		{Input: filepath.Join(in, "C"), Output: filepath.Join(out, "C")},
	}, pairs)

	_, err = Plan(filepath.Join(in, "missing"), out)
	assert.True(t, errors.IsType(err, errors.ErrorTypePathNotFound))
}

func TestMirrorScenario(t *testing.T) {
	tools := t.TempDir()
	in := filepath.Join(t.TempDir(), "in")
	out := filepath.Join(t.TempDir(), "out")
	touch(t, filepath.Join(in, "A", "pts.laz"))

	argsLog := filepath.Join(tools, "args.log")
	converter := testutil.RecordingTool(t, tools, "converter", argsLog, 0)

	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: converter})
	report, err := New(testutil.TestLogger(t), inv).Run(t.Context(), in, out, false)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(out, "A"))
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{
		filepath.Join(in, "A", "pts.laz"), "-o", filepath.Join(out, "A"), "-p", "pts",
	}, readLines(t, argsLog))
}

func TestMirrorContinuesAfterConverterFailure(t *testing.T) {
	tools := t.TempDir()
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	touch(t, filepath.Join(in, "a.las"))
	touch(t, filepath.Join(in, "b.las"))
	touch(t, filepath.Join(in, "sub", "c.laz"))
	touch(t, filepath.Join(in, "sub", "skip.LAZ"))
	touch(t, filepath.Join(in, "readme.txt"))

	argsLog := filepath.Join(tools, "args.log")
	converter := testutil.RecordingTool(t, tools, "converter", argsLog, 2)

	m := metrics.NewCollector()
	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: converter}, WithMetrics(m))
	report, err := New(testutil.TestLogger(t), inv).Run(t.Context(), in, out, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Failed)
	for _, f := range report.Failures {
		assert.Equal(t, string(errors.ErrorTypeExternalTool), f.ErrorType)
		assert.Equal(t, string(cleaning.StageConvert), f.Stage)
	}
	assert.DirExists(t, filepath.Join(out, "sub"))

	var converted []string
	for _, line := range readLines(t, argsLog) {
		if strings.HasPrefix(line, in) {
			converted = append(converted, filepath.Base(line))
		}
	}
	assert.Equal(t, []string{"a.las", "b.las", "c.laz"}, converted)

	n, err := promtestutil.GatherAndCount(m.Registry(), "lasprep_conversions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMirrorMissingInput(t *testing.T) {
	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: "/bin/true"})
	report, err := New(testutil.TestLogger(t), inv).Run(t.Context(), "/nonexistent/lasprep", t.TempDir(), false)
	assert.Nil(t, report)
	assert.True(t, errors.IsType(err, errors.ErrorTypePathNotFound))
}

type fakeCleaner struct {
	calls  []string
	result cleaning.Result
}

func (f *fakeCleaner) Clean(_ context.Context, path string) cleaning.Result {
	f.calls = append(f.calls, path)
	res := f.result
	res.Path = path
	return res
}

func TestConvertCleansFirst(t *testing.T) {
	tools := t.TempDir()
	file := filepath.Join(t.TempDir(), "tile.las")
	touch(t, file)
	outDir := filepath.Join(t.TempDir(), "nested", "out")
	argsLog := filepath.Join(tools, "args.log")
	converter := testutil.RecordingTool(t, tools, "converter", argsLog, 0)

	cleaner := &fakeCleaner{result: cleaning.Result{Success: false, Stage: cleaning.StageLoad, Message: "corrupt"}}
	core, logs := observer.New(zapcore.InfoLevel)
	inv := NewInvoker(zap.New(core), InvokerConfig{ConverterPath: converter}, WithCleaner(cleaner))

	require.NoError(t, inv.Convert(t.Context(), file, outDir, true))
	assert.Equal(t, []string{file}, cleaner.calls)
	assert.DirExists(t, outDir)
	assert.Equal(t, "tile", readLines(t, argsLog)[4])
	assert.Equal(t, 1, logs.FilterMessage("cleaning failed, converting file as is").Len())

	require.NoError(t, inv.Convert(t.Context(), file, outDir, false))
	assert.Len(t, cleaner.calls, 1, "no cleaning without the flag")
}

func TestConvertDiskGuard(t *testing.T) {
	tools := t.TempDir()
	file := filepath.Join(t.TempDir(), "tile.las")
	touch(t, file)
	converter := testutil.RecordingTool(t, tools, "converter", filepath.Join(tools, "args.log"), 0)

	core, logs := observer.New(zapcore.InfoLevel)
	inv := NewInvoker(zap.New(core),
		InvokerConfig{ConverterPath: converter, MinFreeBytes: 1 << 30},
		WithFreeSpace(func(context.Context, string) (uint64, error) { return 1 << 20, nil }))

	require.NoError(t, inv.Convert(t.Context(), file, t.TempDir(), false), "conversion is still attempted")
	warnings := logs.FilterMessage("low free disk space on output volume").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, uint64(1<<20), warnings[0].ContextMap()["free_bytes"])
}

func TestConvertReportsLaunchFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tile.las")
	touch(t, file)

	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: filepath.Join(t.TempDir(), "absent")})
	err := inv.Convert(t.Context(), file, t.TempDir(), false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternalTool))

	err = NewInvoker(testutil.TestLogger(t), InvokerConfig{}).Convert(t.Context(), file, t.TempDir(), false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "pts", Stem("/data/A/pts.laz"))
	assert.Equal(t, "tile.v2", Stem("tile.v2.las"))
}

// failListing makes directories named name unreadable to the tree walk and
// to the per-directory listing.
func failListing(t *testing.T, name string) {
	t.Helper()
	origWalk, origRead := walkDir, readDir
	walkDir = func(root string, fn fs.WalkDirFunc) error {
		return origWalk(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() || d.Name() != name {
				return fn(path, d, err)
			}
			if err := fn(path, d, nil); err != nil {
				return err
			}
			return fn(path, d, fs.ErrPermission)
		})
	}
	readDir = func(dir string) ([]os.DirEntry, error) {
		if filepath.Base(dir) == name {
			return nil, &fs.PathError{Op: "open", Path: dir, Err: fs.ErrPermission}
		}
		return origRead(dir)
	}
	t.Cleanup(func() { walkDir, readDir = origWalk, origRead })
}

func TestMirrorSkipsUnreadableDirectory(t *testing.T) {
	tools := t.TempDir()
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	touch(t, filepath.Join(in, "good.las"))
	touch(t, filepath.Join(in, "locked", "hidden.las"))
	touch(t, filepath.Join(in, "locked", "deeper", "more.las"))
	touch(t, filepath.Join(in, "open", "tile.las"))
	failListing(t, "locked")

	pairs, err := Plan(in, out)
	require.NoError(t, err)
	var inputs []string
	for _, p := range pairs {
		inputs = append(inputs, p.Input)
	}
	assert.Equal(t, []string{in, filepath.Join(in, "locked"), filepath.Join(in, "open")}, inputs)

	argsLog := filepath.Join(tools, "args.log")
	converter := testutil.RecordingTool(t, tools, "converter", argsLog, 0)
	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: converter})
	report, err := New(testutil.TestLogger(t), inv).Run(t.Context(), in, out, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, filepath.Join(in, "locked"), report.Failures[0].Path)
	assert.Equal(t, batch.StageDiscover, report.Failures[0].Stage)
	assert.Equal(t, 2, strings.Count(strings.Join(readLines(t, argsLog), "\n"), "-p"))
}

func TestMirrorCanceledContextLeavesFilesUntouched(t *testing.T) {
	tools := t.TempDir()
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	first := filepath.Join(in, "a.las")
	second := filepath.Join(in, "sub", "b.las")
	testutil.WriteCloud(t, first, testutil.LegacyCloud(), testutil.RandomPoints(10, 1))
	testutil.WriteCloud(t, second, testutil.LegacyCloud(), testutil.RandomPoints(10, 2))

	argsLog := filepath.Join(tools, "args.log")
	converter := testutil.RecordingTool(t, tools, "converter", argsLog, 0)
	log := testutil.TestLogger(t)
	inv := NewInvoker(log, InvokerConfig{ConverterPath: converter}, WithCleaner(cleaning.NewCleaner(log)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := New(log, inv).Run(ctx, in, out, true)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Failed)
	for _, f := range report.Failures {
		assert.Contains(t, f.Message, "run canceled")
	}
	for _, path := range []string{first, second} {
		h, _ := testutil.ReadCloud(t, path)
		assert.Equal(t, uint8(3), h.PointFormat, "%s must not be rewritten", path)
	}
	assert.NoFileExists(t, argsLog)
}

func TestConvertCanceledSkipsCleaning(t *testing.T) {
	tools := t.TempDir()
	file := filepath.Join(t.TempDir(), "tile.las")
	touch(t, file)
	argsLog := filepath.Join(tools, "args.log")
	converter := testutil.RecordingTool(t, tools, "converter", argsLog, 0)
	cleaner := &fakeCleaner{result: cleaning.Result{Success: true}}
	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: converter}, WithCleaner(cleaner))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := inv.Convert(ctx, file, t.TempDir(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, cleaner.calls)
	assert.NoFileExists(t, argsLog)
}

func TestConvertRunsConverterToCompletion(t *testing.T) {
	tools := t.TempDir()
	file := filepath.Join(t.TempDir(), "tile.las")
	touch(t, file)
	marker := filepath.Join(tools, "finished")
	converter := testutil.WriteScript(t, tools, "converter", "sleep 1\necho done > \""+marker+"\"")
	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: converter})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.AfterFunc(200*time.Millisecond, cancel)
	defer timer.Stop()

	require.NoError(t, inv.Convert(ctx, file, t.TempDir(), false))
	assert.FileExists(t, marker, "cancellation does not kill a running converter")
}

func TestConvertStreamsConverterOutput(t *testing.T) {
	tools := t.TempDir()
	file := filepath.Join(t.TempDir(), "tile.las")
	touch(t, file)
	converter := testutil.WriteScript(t, tools, "converter",
		"echo \"indexing 50%\"\necho \"skipped 3 points\" >&2")

	var output bytes.Buffer
	inv := NewInvoker(testutil.TestLogger(t), InvokerConfig{ConverterPath: converter}, WithOutput(&output))
	require.NoError(t, inv.Convert(t.Context(), file, t.TempDir(), false))
	assert.Contains(t, output.String(), "indexing 50%")
	assert.Contains(t, output.String(), "skipped 3 points")
}
