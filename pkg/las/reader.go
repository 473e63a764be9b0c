package las

import (
	"bufio"
	"io"
	"os"

	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/pointset"
)

// Scaled coordinate column names produced by the reader and consumed by the
// writer.
const (
	ColumnX = "x"
	ColumnY = "y"
	ColumnZ = "z"
)

// CoordinateColumns are the real-world coordinate column names in axis order.
var CoordinateColumns = []string{ColumnX, ColumnY, ColumnZ}

// Reader decodes the point records of an uncompressed LAS file.
type Reader struct {
	file   *os.File
	size   int64
	header *Header
	format PointFormat
}

// Open opens path and parses its header and VLRs.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypePathNotFound, "opening point cloud").WithDetail("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "opening point cloud").WithDetail("path", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "stat point cloud").WithDetail("path", path)
	}
	h, err := decodeHeader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "reading LAS header").WithDetail("path", path)
	}
	r := &Reader{file: f, size: info.Size(), header: h}
	if !h.Compressed {
		r.format, err = FormatFor(h)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "resolving point format").WithDetail("path", path)
		}
	}
	return r, nil
}

// ReadHeader returns the header of the file at path without decoding points.
func ReadHeader(path string) (*Header, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Header(), nil
}

// Header returns a copy of the file header.
func (r *Reader) Header() *Header { return r.header.Clone() }

// Format returns the resolved point format, including extra-bytes dimensions.
func (r *Reader) Format() PointFormat { return r.format }

// Columns lists every column ReadColumns can produce: the scaled coordinates
// followed by each non-coordinate dimension in record order.
func (r *Reader) Columns() []string {
	names := append([]string(nil), CoordinateColumns...)
	for _, d := range r.format.Dimensions {
		if isRawCoordinate(d.Name) {
			continue
		}
		names = append(names, d.Name)
	}
	return names
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

func isRawCoordinate(name string) bool {
	return name == DimX || name == DimY || name == DimZ
}

type columnReader struct {
	col   pointset.Column
	store func(rec []byte)
}

// ReadColumns decodes every point record into a record set holding the named
// columns. Missing values (NaN, or an extra dimension's no-data value) are
// stored as nulls.
func (r *Reader) ReadColumns(names []string) (*pointset.RecordSet, error) {
	h := r.header
	if h.Compressed {
		return nil, errors.New(errors.ErrorTypeCapability,
			"point data is LAZ compressed; decompress it first")
	}
	recLen := int64(r.format.Size)
	need := int64(h.PointOffset) + int64(h.PointCount)*recLen
	if need > r.size {
		return nil, errors.Newf(errors.ErrorTypeFormat,
			"point data truncated: header declares %d records needing %d bytes, file has %d",
			h.PointCount, need, r.size)
	}

	n := int(h.PointCount)
	readers := make([]*columnReader, 0, len(names))
	for _, name := range names {
		cr, err := r.newColumnReader(name, n)
		if err != nil {
			return nil, err
		}
		readers = append(readers, cr)
	}

	src := bufio.NewReaderSize(io.NewSectionReader(r.file, int64(h.PointOffset), int64(n)*recLen), 1<<20)
	rec := make([]byte, recLen)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(src, rec); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "reading point record").WithDetail("index", i)
		}
		for _, cr := range readers {
			cr.store(rec)
		}
	}

	cols := make([]pointset.Column, len(readers))
	for i, cr := range readers {
		cols[i] = cr.col
	}
	return pointset.FromColumns(cols...)
}

func (r *Reader) newColumnReader(name string, capacity int) (*columnReader, error) {
	h := r.header
	for axis, coord := range CoordinateColumns {
		if name != coord {
			continue
		}
		d, _ := r.format.Dimension([]string{DimX, DimY, DimZ}[axis])
		col := pointset.NewFloatColumn(name, capacity)
		scale, offset := h.Scale[axis], h.Offset[axis]
		return &columnReader{col: col, store: func(rec []byte) {
			col.Append(float64(d.Signed(rec))*scale + offset)
		}}, nil
	}

	d, ok := r.format.Dimension(name)
	if !ok || isRawCoordinate(name) {
		return nil, errors.Newf(errors.ErrorTypeFormat,
			"point format %d has no dimension %q", h.PointFormat, name)
	}
	cr := &columnReader{}
	switch {
	case d.IsFlag():
		col := pointset.NewBoolColumn(name, capacity)
		cr.col = col
		cr.store = func(rec []byte) { col.Append(d.Unsigned(rec) != 0) }
	case d.Kind == KindFloat || d.Scaled:
		col := pointset.NewFloatColumn(name, capacity)
		cr.col = col
		cr.store = func(rec []byte) {
			if d.HasNoData && rawValue(d, rec) == d.NoData {
				col.AppendNull()
				return
			}
			col.Append(d.Value(rec))
		}
	case d.Kind == KindSigned:
		col := pointset.NewIntColumn(name, capacity)
		cr.col = col
		cr.store = func(rec []byte) {
			v := d.Signed(rec)
			if d.HasNoData && float64(v) == d.NoData {
				col.AppendNull()
				return
			}
			col.Append(v)
		}
	default:
		col := pointset.NewUintColumn(name, capacity)
		cr.col = col
		cr.store = func(rec []byte) {
			v := d.Unsigned(rec)
			if d.HasNoData && float64(v) == d.NoData {
				col.AppendNull()
				return
			}
			col.Append(v)
		}
	}
	return cr, nil
}

// rawValue decodes a dimension without its extra-bytes transform.
func rawValue(d Dimension, rec []byte) float64 {
	switch d.Kind {
	case KindSigned:
		return float64(d.Signed(rec))
	case KindFloat:
		return d.Float(rec)
	default:
		return float64(d.Unsigned(rec))
	}
}
