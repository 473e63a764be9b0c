// Package batch cleans every point-cloud file under a root path with a
// bounded pool of workers and aggregates the outcomes into a Report.
package batch

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ajitpratap0/lasprep/pkg/errors"
)

// Extensions are the file suffixes picked up by Discover. Matching is case
// sensitive.
var Extensions = []string{".las", ".laz"}

// IsPointCloud reports whether name carries one of Extensions.
func IsPointCloud(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// StageDiscover marks failures to list a directory below the root.
const StageDiscover = "discover"

// walkDir is replaced in tests to simulate unreadable directories.
var walkDir = filepath.WalkDir

// Discover lists the files to clean under root. A file root is returned
// alone; a directory is walked recursively. The result is de-duplicated and
// sorted. A missing or unreadable root is an error; a directory below the
// root that cannot be read is skipped and returned as a Failure.
func Discover(root string) ([]string, []Failure, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrap(err, errors.ErrorTypePathNotFound, "input path does not exist").
				WithDetail("path", root)
		}
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "reading input path").WithDetail("path", root)
	}
	if !info.IsDir() {
		return []string{filepath.Clean(root)}, nil, nil
	}

	var (
		paths   []string
		skipped []Failure
	)
	err = walkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if filepath.Clean(path) == filepath.Clean(root) {
				return err
			}
			err = errors.Wrap(err, errors.ErrorTypeFile, "reading directory").WithDetail("path", path)
			skipped = append(skipped, FailureFor(path, StageDiscover, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsPointCloud(d.Name()) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
		}
		paths = append(paths, filepath.Clean(path))
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "walking input directory").WithDetail("path", root)
	}

	slices.Sort(paths)
	return slices.Compact(paths), skipped, nil
}
