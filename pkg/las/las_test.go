package las

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/pointset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonicalHeader() *Header {
	return &Header{
		Version:          Version{Major: 1, Minor: 4},
		PointFormat:      6,
		Scale:            Vector3{0.001, 0.001, 0.001},
		Offset:           Vector3{100, 200, 0},
		SystemIdentifier: "test",
		CreationDay:      12,
		CreationYear:     2024,
	}
}

func sampleRecords(t *testing.T) *pointset.RecordSet {
	t.Helper()
	rs, err := pointset.FromColumns(
		pointset.FloatColumnOf("x", 100.5, 101.25, 99.001),
		pointset.FloatColumnOf("y", 200.1, 205.333, 201),
		pointset.FloatColumnOf("z", 3.5, -1.25, 0),
		pointset.UintColumnOf("intensity", 10, 65535, 0),
		pointset.UintColumnOf("return_number", 1, 2, 1),
		pointset.UintColumnOf("number_of_returns", 2, 2, 1),
		pointset.UintColumnOf("classification", 2, 6, 1),
		pointset.BoolColumnOf("withheld", false, true, false),
	)
	require.NoError(t, err)
	return rs
}

func readAll(t *testing.T, path string) (*Header, *pointset.RecordSet) {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	rs, err := r.ReadColumns(r.Columns())
	require.NoError(t, err)
	return r.Header(), rs
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.las")
	written, err := WriteFile(path, canonicalHeader(), sampleRecords(t))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), written.PointCount)
	assert.Equal(t, uint16(30), written.PointRecordLength)
	assert.Equal(t, [15]uint64{2, 1}, written.PointsByReturn)

	h, rs := readAll(t, path)
	assert.Equal(t, Version{1, 4}, h.Version)
	assert.Equal(t, uint8(6), h.PointFormat)
	assert.Equal(t, uint16(headerSize14), h.HeaderSize)
	assert.Equal(t, canonicalHeader().Scale, h.Scale)
	assert.Equal(t, canonicalHeader().Offset, h.Offset)
	assert.Equal(t, uint64(3), h.PointCount)
	assert.InDelta(t, 99.001, h.Min[0], 1e-9)
	assert.InDelta(t, 101.25, h.Max[0], 1e-9)
	assert.InDelta(t, -1.25, h.Min[2], 1e-9)

	want := sampleRecords(t)
	for _, name := range []string{"x", "y", "z"} {
		got, err := rs.Float64s(name)
		require.NoError(t, err)
		exp, _ := want.Float64s(name)
		for i := range exp {
			assert.InDelta(t, exp[i], got[i], 0.0005, "%s[%d]", name, i)
		}
	}
	intensity, _ := rs.Column("intensity")
	assert.Equal(t, uint64(65535), intensity.(*pointset.UintColumn).Value(1))
	withheld, _ := rs.Column("withheld")
	assert.True(t, withheld.(*pointset.BoolColumn).Value(1))
	assert.Equal(t, pointset.ColumnTypeInt, mustColumn(t, rs, "scan_angle").Type())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(raw[107:]), "legacy count is zero for format 6")
}

func mustColumn(t *testing.T, rs *pointset.RecordSet, name string) pointset.Column {
	t.Helper()
	c, ok := rs.Column(name)
	require.True(t, ok, "column %q", name)
	return c
}

func TestLegacyFormatRoundTrip(t *testing.T) {
	h := &Header{
		Version:     Version{Major: 1, Minor: 2},
		PointFormat: 3,
		Scale:       Vector3{0.01, 0.01, 0.01},
	}
	rs, err := pointset.FromColumns(
		pointset.FloatColumnOf("x", 1, 2),
		pointset.FloatColumnOf("y", 3, 4),
		pointset.FloatColumnOf("z", 5, 6),
		pointset.UintColumnOf("red", 100, 65535),
		pointset.FloatColumnOf("gps_time", 12345.5, 12346.25),
		pointset.IntColumnOf("scan_angle_rank", -90, 90),
	)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "legacy.las")
	_, err = WriteFile(path, h, rs)
	require.NoError(t, err)

	got, out := readAll(t, path)
	assert.Equal(t, uint16(headerSize12), got.HeaderSize)
	assert.Equal(t, uint16(34), got.PointRecordLength)
	assert.Equal(t, uint64(2), got.PointCount)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[107:]))

	gps, err := out.Float64s("gps_time")
	require.NoError(t, err)
	assert.Equal(t, []float64{12345.5, 12346.25}, gps)
	angle := mustColumn(t, out, "scan_angle_rank").(*pointset.IntColumn)
	assert.Equal(t, int64(-90), angle.Value(0))
}

func TestExtraBytesDimensions(t *testing.T) {
	h := canonicalHeader()
	require.NoError(t, h.AddExtraDimension(NewExtraBytes("unclassified", ExtraUint8, "flag")))
	require.NoError(t, h.AddExtraDimension(ExtraBytes{
		Name:     "height",
		DataType: ExtraInt16,
		Options:  ExtraOptionScale | ExtraOptionOffset | ExtraOptionNoData,
		Scale:    0.01,
		Offset:   10,
		NoData:   -32768,
	}))
	assert.Error(t, h.AddExtraDimension(NewExtraBytes("height", ExtraUint8, "")))

	height := pointset.NewFloatColumn("height", 2)
	height.Append(12.34)
	height.AppendNull()
	rs, err := pointset.FromColumns(
		pointset.FloatColumnOf("x", 100, 101),
		pointset.FloatColumnOf("y", 200, 201),
		pointset.FloatColumnOf("z", 0, 1),
		pointset.UintColumnOf("unclassified", 1, 0),
		height,
	)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "extra.las")
	written, err := WriteFile(path, h, rs)
	require.NoError(t, err)
	assert.Equal(t, uint16(33), written.PointRecordLength)

	got, out := readAll(t, path)
	require.Len(t, got.ExtraBytes, 2)
	assert.Equal(t, "unclassified", got.ExtraBytes[0].Name)
	assert.Empty(t, got.VLRs, "extra-bytes VLR is parsed, not passed through")

	unclassified := mustColumn(t, out, "unclassified").(*pointset.UintColumn)
	assert.Equal(t, uint64(1), unclassified.Value(0))
	hc := mustColumn(t, out, "height")
	assert.InDelta(t, 12.34, hc.AsFloat(0), 1e-9)
	assert.True(t, hc.IsNull(1))
}

func TestWriteRejectsUnrepresentableValues(t *testing.T) {
	cases := map[string]pointset.Column{
		"intensity overflow":  pointset.UintColumnOf("intensity", 1, 70000, 1),
		"fractional integer":  pointset.FloatColumnOf("intensity", 1, 2.5, 3),
		"return bits":         pointset.UintColumnOf("return_number", 1, 16, 1),
		"negative unsigned":   pointset.IntColumnOf("user_data", 0, -1, 0),
		"coordinate overflow": pointset.FloatColumnOf("x", 100, 1e9, 100),
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			rs := pointset.New()
			for _, c := range []pointset.Column{
				pointset.FloatColumnOf("x", 100, 101, 102),
				pointset.FloatColumnOf("y", 200, 200, 200),
				pointset.FloatColumnOf("z", 0, 0, 0),
			} {
				if c.Name() == bad.Name() {
					c = bad
				}
				require.NoError(t, rs.AddColumn(c))
			}
			if !rs.Has(bad.Name()) {
				require.NoError(t, rs.AddColumn(bad))
			}

			dir := t.TempDir()
			path := filepath.Join(dir, "out.las")
			require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

			_, err := WriteFile(path, canonicalHeader(), rs)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedColumn), "got %v", err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "original", string(data))
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temporary output is removed")
		})
	}
}

func TestWriteRejectsUnknownColumn(t *testing.T) {
	rs := sampleRecords(t)
	require.NoError(t, rs.AddColumn(pointset.UintColumnOf("nir", 1, 2, 3)))
	_, err := WriteFile(filepath.Join(t.TempDir(), "out.las"), canonicalHeader(), rs)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedColumn))
}

func TestVLRPassThrough(t *testing.T) {
	h := canonicalHeader()
	h.VLRs = []VLR{
		{UserID: ProjectionUserID, RecordID: wktRecordID, Description: "wkt", Data: []byte("PROJCS[\"test\"]\x00")},
		{UserID: "vendor", RecordID: 7, Description: "blob", Data: []byte{1, 2, 3}, Extended: true},
	}
	path := filepath.Join(t.TempDir(), "vlr.las")
	_, err := WriteFile(path, h, sampleRecords(t))
	require.NoError(t, err)

	got, rs := readAll(t, path)
	assert.Equal(t, 3, rs.Len())
	require.Len(t, got.VLRs, 2)
	assert.True(t, got.HasWKT())
	assert.NotZero(t, got.GlobalEncoding&globalEncodingWKT)
	assert.Equal(t, "vendor", got.VLRs[1].UserID)
	assert.True(t, got.VLRs[1].Extended)
	assert.Equal(t, []byte{1, 2, 3}, got.VLRs[1].Data)
}

func TestEmptyWrite(t *testing.T) {
	rs, err := pointset.FromColumns(
		pointset.FloatColumnOf("x"),
		pointset.FloatColumnOf("y"),
		pointset.FloatColumnOf("z"),
	)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "empty.las")
	_, err = WriteFile(path, canonicalHeader(), rs)
	require.NoError(t, err)

	h, out := readAll(t, path)
	assert.Zero(t, h.PointCount)
	assert.Zero(t, out.Len())
}

func TestReaderErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "nope.las"))
		assert.True(t, errors.IsType(err, errors.ErrorTypePathNotFound))
	})

	t.Run("bad signature", func(t *testing.T) {
		path := filepath.Join(dir, "junk.las")
		require.NoError(t, os.WriteFile(path, make([]byte, 400), 0o644))
		_, err := Open(path)
		assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
	})

	t.Run("truncated points", func(t *testing.T) {
		path := filepath.Join(dir, "short.las")
		_, err := WriteFile(path, canonicalHeader(), sampleRecords(t))
		require.NoError(t, err)
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(path, info.Size()-10))

		r, err := Open(path)
		require.NoError(t, err)
		defer r.Close()
		_, err = r.ReadColumns([]string{"x"})
		assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
	})

	t.Run("compressed points", func(t *testing.T) {
		path := filepath.Join(dir, "packed.las")
		_, err := WriteFile(path, canonicalHeader(), sampleRecords(t))
		require.NoError(t, err)
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		raw[104] |= 0x80
		require.NoError(t, os.WriteFile(path, raw, 0o644))

		r, err := Open(path)
		require.NoError(t, err)
		defer r.Close()
		assert.True(t, r.Header().Compressed)
		assert.Equal(t, uint8(6), r.Header().PointFormat)
		_, err = r.ReadColumns([]string{"x"})
		assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
	})
}

func TestDimensionCodec(t *testing.T) {
	rec := make([]byte, 30)
	f, err := StandardFormat(6)
	require.NoError(t, err)

	ret, _ := f.Dimension("return_number")
	n, _ := f.Dimension("number_of_returns")
	require.NoError(t, ret.PutUnsigned(rec, 3))
	require.NoError(t, n.PutUnsigned(rec, 15))
	assert.Equal(t, uint64(3), ret.Unsigned(rec))
	assert.Equal(t, uint64(15), n.Unsigned(rec))
	assert.Error(t, ret.PutUnsigned(rec, 16))

	angle, _ := f.Dimension("scan_angle")
	require.NoError(t, angle.PutSigned(rec, -15000))
	assert.Equal(t, int64(-15000), angle.Signed(rec))
	assert.Error(t, angle.PutSigned(rec, math.MaxInt16+1))

	q, err := Quantize(1.0006, 0.001, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1001), q)
	_, err = Quantize(math.NaN(), 0.001, 0)
	assert.Error(t, err)
}

func TestTranscoder(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable", func(t *testing.T) {
		tr := NewTranscoder("", "")
		_, _, err := tr.Decompress(ctx, "in.laz")
		assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
		assert.True(t, errors.IsType(tr.Compress(ctx, "a.las", "a.laz"), errors.ErrorTypeCapability))
	})

	t.Run("round trip through fake laszip", func(t *testing.T) {
		dir := t.TempDir()
		tool := filepath.Join(dir, "laszip")
		require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\ncp \"$2\" \"$4\"\n"), 0o755))

		src := filepath.Join(dir, "cloud.laz")
		require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

		tr := NewTranscoder(tool, dir)
		las, cleanup, err := tr.Decompress(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, "cloud.las", filepath.Base(las))
		data, err := os.ReadFile(las)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))

		require.NoError(t, os.WriteFile(las, []byte("cleaned"), 0o644))
		require.NoError(t, tr.Compress(ctx, las, src))
		data, err = os.ReadFile(src)
		require.NoError(t, err)
		assert.Equal(t, "cleaned", string(data))

		cleanup()
		_, err = os.Stat(las)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("tool failure", func(t *testing.T) {
		dir := t.TempDir()
		tool := filepath.Join(dir, "laszip")
		require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o755))
		_, _, err := NewTranscoder(tool, dir).Decompress(ctx, filepath.Join(dir, "x.laz"))
		assert.True(t, errors.IsType(err, errors.ErrorTypeExternalTool))
	})

	assert.True(t, IsLAZPath("A/B.LAZ"))
	assert.False(t, IsLAZPath("a.las"))
}
