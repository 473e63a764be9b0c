// Package backup keeps compressed copies of point-cloud files before they
// are overwritten in place.
package backup

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/lasprep/pkg/compression"
	"github.com/ajitpratap0/lasprep/pkg/errors"
)

// Suffix separates the original file name from the algorithm in a backup
// file name: <name>.bak.<algorithm>.
const Suffix = ".bak."

// Store writes backups into Dir. An empty Dir places each backup next to its
// source file.
type Store struct {
	Dir        string
	compressor compression.Compressor
}

// NewStore creates a backup store compressing with the given settings.
func NewStore(dir string, algorithm compression.Algorithm, level compression.Level) (*Store, error) {
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm, Level: level})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "configuring backup compression")
	}
	return &Store{Dir: dir, compressor: comp}, nil
}

// PathFor returns where the backup of src is written.
func (s *Store) PathFor(src string) string {
	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	return filepath.Join(dir, filepath.Base(src)+Suffix+string(s.compressor.Algorithm()))
}

// Save streams src through the compressor into its backup path and returns
// that path. An existing backup is replaced.
func (s *Store) Save(src string) (string, error) {
	dst := s.PathFor(src)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "creating backup directory").WithDetail("path", dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "opening backup source").WithDetail("path", src)
	}
	defer in.Close()

	if err := writeAtomic(dst, func(w *bufio.Writer) error {
		return s.compressor.CompressStream(w, bufio.NewReader(in))
	}); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "writing backup").WithDetail("path", dst)
	}
	return dst, nil
}

// AlgorithmOf infers the compression algorithm from a backup file name.
func AlgorithmOf(path string) (compression.Algorithm, error) {
	i := strings.LastIndex(path, Suffix)
	if i < 0 {
		return "", errors.Newf(errors.ErrorTypeFile, "%s is not a backup file", path)
	}
	algo, err := compression.ParseAlgorithm(path[i+len(Suffix):])
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "unknown backup algorithm").WithDetail("path", path)
	}
	return algo, nil
}

// OriginalName returns the file name the backup was taken from.
func OriginalName(path string) string {
	base := filepath.Base(path)
	if i := strings.LastIndex(base, Suffix); i >= 0 {
		return base[:i]
	}
	return base
}

// Restore decompresses backup into dst. When dst is an existing directory
// the original file name is used inside it.
func Restore(backupPath, dst string) (string, error) {
	algo, err := AlgorithmOf(backupPath)
	if err != nil {
		return "", err
	}
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: compression.Default})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "configuring backup decompression")
	}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, OriginalName(backupPath))
	}

	in, err := os.Open(backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(err, errors.ErrorTypePathNotFound, "opening backup").WithDetail("path", backupPath)
		}
		return "", errors.Wrap(err, errors.ErrorTypeFile, "opening backup").WithDetail("path", backupPath)
	}
	defer in.Close()

	if err := writeAtomic(dst, func(w *bufio.Writer) error {
		return comp.DecompressStream(w, bufio.NewReader(in))
	}); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "restoring backup").WithDetail("path", dst)
	}
	return dst, nil
}

func writeAtomic(dst string, fill func(*bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 1<<20)
	if err := fill(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
