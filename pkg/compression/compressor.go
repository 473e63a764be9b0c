// Package compression streams point-cloud backups through a configurable
// codec.
//
// # Algorithm Selection
//
//   - S2: fastest, moderate ratio
//   - LZ4: very fast, decent ratio
//   - Zstd: best ratio, good speed (default)
//   - Gzip: readable by standard tools
//
// Levels run from 1 (Fastest) to 9 (Best). Each codec maps them onto its own
// scale; S2 ignores the level.
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Default,
//	})
//	err = comp.CompressStream(dst, src)
package compression

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a backup codec. The name doubles as the backup file suffix.
type Algorithm string

const (
	None Algorithm = "none"
	Gzip Algorithm = "gzip"
	LZ4  Algorithm = "lz4"
	Zstd Algorithm = "zstd"
	// S2 is the Snappy-compatible codec from klauspost/compress.
	S2 Algorithm = "s2"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{None, Gzip, LZ4, Zstd, S2}

// ParseAlgorithm resolves an algorithm name, case-insensitively.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := codecs[a]; !ok {
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
	return a, nil
}

// Level is a codec independent compression level between 1 and 9.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

func (l Level) clamp() Level {
	switch {
	case l < Fastest:
		return Default
	case l > Best:
		return Best
	}
	return l
}

// Compressor compresses and decompresses streams.
// Implementations are safe for concurrent use.
type Compressor interface {
	CompressStream(dst io.Writer, src io.Reader) error
	DecompressStream(dst io.Writer, src io.Reader) error
	Algorithm() Algorithm
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// DefaultConfig returns the backup default: zstd at the default level.
func DefaultConfig() *Config {
	return &Config{Algorithm: Zstd, Level: Default}
}

// codec wraps a stream in an encoder or decoder.
type codec struct {
	encode func(dst io.Writer, level Level) (io.WriteCloser, error)
	decode func(src io.Reader) (io.ReadCloser, error)
}

var codecs = map[Algorithm]codec{
	None: {
		encode: func(dst io.Writer, _ Level) (io.WriteCloser, error) { return nopWriteCloser{dst}, nil },
		decode: func(src io.Reader) (io.ReadCloser, error) { return io.NopCloser(src), nil },
	},
	Gzip: {
		encode: func(dst io.Writer, level Level) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(dst, int(level))
		},
		decode: func(src io.Reader) (io.ReadCloser, error) { return gzip.NewReader(src) },
	},
	LZ4: {
		encode: func(dst io.Writer, level Level) (io.WriteCloser, error) {
			w := lz4.NewWriter(dst)
			if err := w.Apply(lz4.CompressionLevelOption(lz4Levels[level-1])); err != nil {
				return nil, err
			}
			return w, nil
		},
		decode: func(src io.Reader) (io.ReadCloser, error) { return io.NopCloser(lz4.NewReader(src)), nil },
	},
	Zstd: {
		encode: func(dst io.Writer, level Level) (io.WriteCloser, error) {
			return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstdLevel(level)))
		},
		decode: func(src io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(src)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	},
	S2: {
		encode: func(dst io.Writer, _ Level) (io.WriteCloser, error) { return s2.NewWriter(dst), nil },
		decode: func(src io.Reader) (io.ReadCloser, error) { return io.NopCloser(s2.NewReader(src)), nil },
	},
}

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch {
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewCompressor creates a compressor for config. A nil config selects
// DefaultConfig.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c, ok := codecs[config.Algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
	return &streamCompressor{codec: c, algorithm: config.Algorithm, level: config.Level}, nil
}

type streamCompressor struct {
	codec
	algorithm Algorithm
	level     Level
}

func (sc *streamCompressor) Algorithm() Algorithm { return sc.algorithm }

func (sc *streamCompressor) Level() Level { return sc.level }

// CompressStream copies src into dst through the encoder and flushes it.
func (sc *streamCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w, err := sc.encode(dst, sc.level.clamp())
	if err != nil {
		return fmt.Errorf("%s encoder: %w", sc.algorithm, err)
	}
	// Plain wrappers keep io.Copy off lz4.Writer.ReadFrom, which fails after Apply.
	if _, err := io.Copy(struct{ io.Writer }{w}, struct{ io.Reader }{src}); err != nil {
		w.Close()
		return fmt.Errorf("%s compress: %w", sc.algorithm, err)
	}
	return w.Close()
}

// DecompressStream copies the decoded contents of src into dst.
func (sc *streamCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r, err := sc.decode(src)
	if err != nil {
		return fmt.Errorf("%s decoder: %w", sc.algorithm, err)
	}
	defer r.Close()
	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("%s decompress: %w", sc.algorithm, err)
	}
	return nil
}
