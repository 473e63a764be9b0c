package compression

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestStreamRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("LASF point record payload with repetitive content "), 2000)

	for _, algo := range Algorithms {
		for _, level := range []Level{Fastest, Default, Best} {
			comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
			if err != nil {
				t.Fatalf("Failed to create %s compressor: %v", algo, err)
			}
			if comp.Algorithm() != algo || comp.Level() != level {
				t.Fatalf("compressor reports %s/%d, want %s/%d", comp.Algorithm(), comp.Level(), algo, level)
			}

			var compressed bytes.Buffer
			if err := comp.CompressStream(&compressed, bytes.NewReader(original)); err != nil {
				t.Fatalf("%s: failed to compress stream: %v", algo, err)
			}
			if algo != None && compressed.Len() >= len(original) {
				t.Errorf("%s: compressed size %d not smaller than %d", algo, compressed.Len(), len(original))
			}

			var decompressed bytes.Buffer
			if err := comp.DecompressStream(&decompressed, &compressed); err != nil {
				t.Fatalf("%s: failed to decompress stream: %v", algo, err)
			}
			if !bytes.Equal(original, decompressed.Bytes()) {
				t.Errorf("%s: decompressed stream doesn't match original", algo)
			}
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm(" ZSTD ")
	if err != nil || a != Zstd {
		t.Fatalf("ParseAlgorithm(ZSTD) = %q, %v", a, err)
	}
	if _, err := ParseAlgorithm("snappy"); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if _, err := NewCompressor(&Config{Algorithm: "brotli"}); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestDefaultConfig(t *testing.T) {
	comp, err := NewCompressor(nil)
	if err != nil {
		t.Fatalf("NewCompressor(nil): %v", err)
	}
	if comp.Algorithm() != Zstd {
		t.Errorf("default algorithm = %s, want zstd", comp.Algorithm())
	}
}

func TestCompressFromFile(t *testing.T) {
	original := bytes.Repeat([]byte("LASF header and point records read from disk "), 4000)
	path := filepath.Join(t.TempDir(), "tile.las")
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	for _, algo := range Algorithms {
		for level := Fastest; level <= Best; level++ {
			comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
			if err != nil {
				t.Fatalf("Failed to create %s compressor: %v", algo, err)
			}

			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("opening source: %v", err)
			}
			var compressed bytes.Buffer
			bw := bufio.NewWriter(&compressed)
			err = comp.CompressStream(bw, bufio.NewReader(f))
			f.Close()
			if err != nil {
				t.Fatalf("%s level %d: compressing file: %v", algo, level, err)
			}
			if err := bw.Flush(); err != nil {
				t.Fatalf("flushing: %v", err)
			}

			var decompressed bytes.Buffer
			if err := comp.DecompressStream(&decompressed, &compressed); err != nil {
				t.Fatalf("%s level %d: decompressing: %v", algo, level, err)
			}
			if !bytes.Equal(original, decompressed.Bytes()) {
				t.Errorf("%s level %d: round trip mismatch", algo, level)
			}
		}
	}
}
