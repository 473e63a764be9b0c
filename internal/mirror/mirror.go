// Package mirror reproduces an input directory tree under an output root
// and runs the octree converter for every point-cloud file in it.
package mirror

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/lasprep/internal/batch"
	"github.com/ajitpratap0/lasprep/internal/cleaning"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/logger"
)

// walkDir and readDir are replaced in tests to simulate unreadable
// directories.
var (
	walkDir = filepath.WalkDir
	readDir = os.ReadDir
)

// DirPair maps an input directory to its mirrored output directory.
type DirPair struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Plan lists every directory under inputRoot in pre-order, each paired with
// its location under outputRoot. Symlinked directories are not followed.
func Plan(inputRoot, outputRoot string) ([]DirPair, error) {
	info, err := os.Stat(inputRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypePathNotFound, "input path does not exist").
				WithDetail("path", inputRoot)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "reading input path").WithDetail("path", inputRoot)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrorTypeFile, "input path is not a directory").WithDetail("path", inputRoot)
	}

	root := inputRoot
	if l, err := os.Lstat(inputRoot); err == nil && l.Mode()&fs.ModeSymlink != 0 {
		if root, err = filepath.EvalSymlinks(inputRoot); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "resolving input path").WithDetail("path", inputRoot)
		}
	}

	var pairs []DirPair
	err = walkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// The directory was already planned; listing it fails again in
			// Run and is reported there.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		pairs = append(pairs, DirPair{Input: path, Output: filepath.Join(outputRoot, rel)})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "walking input directory").WithDetail("path", inputRoot)
	}
	return pairs, nil
}

// Converter converts one file into an output directory.
type Converter interface {
	Convert(ctx context.Context, file, outDir string, clean bool) error
}

// Mirror walks an input tree sequentially, one conversion at a time.
type Mirror struct {
	logger    *zap.Logger
	converter Converter
}

// New creates a mirror driving converter.
func New(logger *zap.Logger, converter Converter) *Mirror {
	return &Mirror{logger: logger.With(zap.String("component", "mirror")), converter: converter}
}

// Run mirrors inputRoot into outputRoot. Each output directory is created
// before any file beneath it is converted. Conversion failures are collected
// into the report and the walk continues; only a missing input root is
// returned as an error.
func (m *Mirror) Run(ctx context.Context, inputRoot, outputRoot string, clean bool) (*batch.Report, error) {
	pairs, err := Plan(inputRoot, outputRoot)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, m.logger)
	log.Info("mirroring directory tree",
		zap.String("input", inputRoot),
		zap.String("output", outputRoot),
		zap.Int("directories", len(pairs)),
		zap.Bool("clean", clean))

	report := batch.NewReport(inputRoot, 0)
	for _, pair := range pairs {
		m.mirrorDir(ctx, pair, clean, report)
	}
	report.Finish()

	log.Info("mirror finished",
		zap.Int("files", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (m *Mirror) mirrorDir(ctx context.Context, pair DirPair, clean bool, report *batch.Report) {
	files, err := pointClouds(pair.Input)
	if err != nil {
		m.logger.Warn("skipping unreadable directory", zap.String("path", pair.Input), zap.Error(err))
		report.AddUnreadable(batch.FailureFor(pair.Input, batch.StageDiscover, err))
		return
	}
	if err := os.MkdirAll(pair.Output, 0o755); err != nil {
		err = errors.Wrap(err, errors.ErrorTypeFile, "creating output directory").WithDetail("path", pair.Output)
		m.logger.Error("creating output directory failed", zap.String("path", pair.Output), zap.Error(err))
		for _, f := range files {
			report.Total++
			report.AddFailure(batch.FailureFor(f, string(cleaning.StageConvert), err))
		}
		return
	}

	for _, f := range files {
		report.Total++
		if err := ctx.Err(); err != nil {
			report.AddFailure(batch.FailureFor(f, string(cleaning.StageConvert), batch.CanceledError(err)))
			continue
		}
		if err := m.converter.Convert(ctx, f, pair.Output, clean); err != nil {
			report.AddFailure(batch.FailureFor(f, string(cleaning.StageConvert), err))
			continue
		}
		report.AddSuccess()
	}
}

// pointClouds lists the point-cloud files directly inside dir, sorted by
// name.
func pointClouds(dir string) ([]string, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "reading directory").WithDetail("path", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !batch.IsPointCloud(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}
