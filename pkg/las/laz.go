package las

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/lasprep/pkg/errors"
)

// IsLAZPath reports whether path names a LAZ file by extension.
func IsLAZPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".laz")
}

// Transcoder converts between LAZ and LAS by running an external laszip
// executable as `<laszip> -i <in> -o <out>`.
type Transcoder struct {
	Path    string
	TempDir string
}

// NewTranscoder returns a transcoder for the given laszip executable. An
// empty path yields a transcoder that reports a capability error on use.
func NewTranscoder(laszipPath, tempDir string) *Transcoder {
	return &Transcoder{Path: laszipPath, TempDir: tempDir}
}

// Available reports whether a laszip executable is configured.
func (t *Transcoder) Available() bool { return t != nil && t.Path != "" }

// Decompress writes an uncompressed copy of src into a fresh temporary
// directory and returns its path with a cleanup function.
func (t *Transcoder) Decompress(ctx context.Context, src string) (string, func(), error) {
	if !t.Available() {
		return "", func() {}, errors.New(errors.ErrorTypeCapability,
			"LAZ input requires a configured laszip executable").WithDetail("path", src)
	}
	dir, err := os.MkdirTemp(t.TempDir, "lasprep-laz-")
	if err != nil {
		return "", func() {}, errors.Wrap(err, errors.ErrorTypeFile, "creating transcode directory")
	}
	cleanup := func() { os.RemoveAll(dir) }

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(dir, stem+".las")
	if err := t.run(ctx, src, out); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return out, cleanup, nil
}

// Compress writes a LAZ version of src to dst, replacing dst atomically.
func (t *Transcoder) Compress(ctx context.Context, src, dst string) error {
	if !t.Available() {
		return errors.New(errors.ErrorTypeCapability,
			"LAZ output requires a configured laszip executable").WithDetail("path", dst)
	}
	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp.laz")
	if err := t.run(ctx, src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "replacing LAZ destination").WithDetail("path", dst)
	}
	return nil
}

func (t *Transcoder) run(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, t.Path, "-i", in, "-o", out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExternalTool, "laszip failed").
			WithDetail("tool", t.Path).
			WithDetail("input", in).
			WithDetail("stderr", strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExternalTool, "laszip produced no output").
			WithDetail("tool", t.Path).
			WithDetail("output", out)
	}
	return nil
}
