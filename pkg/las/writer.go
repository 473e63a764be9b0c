package las

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/pointset"
)

// Writer streams point records into a temporary file next to the destination
// and moves it into place on Close. A failed or aborted write leaves any
// existing destination untouched.
type Writer struct {
	path   string
	tmp    *os.File
	buf    *bufio.Writer
	header *Header
	format PointFormat
	evlrs  []VLR

	count    uint64
	byReturn [15]uint64
	min, max Vector3
	closed   bool
}

// Create prepares a writer for path using h as the header template. The
// header's counts and bounds are recomputed from the records written.
func Create(path string, h *Header) (*Writer, error) {
	hdr := h.Clone()
	if hdr.Version.Major == 0 {
		hdr.Version = Version{Major: 1, Minor: 4}
	}
	if hdr.Compressed {
		return nil, errors.New(errors.ErrorTypeCapability, "writing LAZ point data is not supported")
	}
	if !hdr.Version.AtLeast(4) && !StandardFormatAllowed(hdr.Version, hdr.PointFormat) {
		return nil, errors.Newf(errors.ErrorTypeFormat,
			"point format %d requires LAS 1.4, header is %s", hdr.PointFormat, hdr.Version)
	}
	for i, s := range hdr.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errors.Newf(errors.ErrorTypeFormat, "invalid scale %v on axis %d", s, i)
		}
	}
	size, err := hdr.recordLength()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "resolving record length")
	}
	hdr.PointRecordLength = uint16(size)
	format, err := FormatFor(hdr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "resolving point format")
	}

	if hdr.HasWKT() {
		hdr.GlobalEncoding |= globalEncodingWKT
	} else {
		hdr.GlobalEncoding &^= globalEncodingWKT
	}

	var vlrs []VLR
	if len(hdr.ExtraBytes) > 0 {
		vlrs = append(vlrs, extraBytesVLR(hdr.ExtraBytes))
	}
	var evlrs []VLR
	for _, v := range hdr.VLRs {
		// Oversized records only fit as EVLRs, which need 1.4.
		if v.Extended || len(v.Data) > math.MaxUint16 {
			if !hdr.Version.AtLeast(4) {
				continue
			}
			v.Extended = true
			evlrs = append(evlrs, v)
			continue
		}
		vlrs = append(vlrs, v)
	}

	offset := headerSizeFor(hdr.Version)
	for _, v := range vlrs {
		offset += vlrHeaderSize + len(v.Data)
	}
	hdr.HeaderSize = uint16(headerSizeFor(hdr.Version))
	hdr.PointOffset = uint32(offset)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "creating temporary output").WithDetail("dir", dir)
	}
	w := &Writer{
		path:   path,
		tmp:    tmp,
		buf:    bufio.NewWriterSize(tmp, 1<<20),
		header: hdr,
		format: format,
		evlrs:  evlrs,
		min:    Vector3{math.Inf(1), math.Inf(1), math.Inf(1)},
		max:    Vector3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}

	// Placeholder header; the final one is written on Close.
	if _, err := w.buf.Write(hdr.encode(uint32(len(vlrs)), 0, 0)); err != nil {
		w.Abort()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "writing header")
	}
	for _, v := range vlrs {
		if _, err := w.buf.Write(encodeVLR(v)); err != nil {
			w.Abort()
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "writing VLR")
		}
	}
	return w, nil
}

// StandardFormatAllowed reports whether a pre-1.4 file may carry format id.
func StandardFormatAllowed(v Version, id uint8) bool {
	switch {
	case v.AtLeast(4):
		return id <= 10
	case v.AtLeast(3):
		return id <= 5
	case v.AtLeast(2):
		return id <= 3
	default:
		return id <= 1
	}
}

// Format returns the record layout the writer encodes.
func (w *Writer) Format() PointFormat { return w.format }

type columnWriter struct {
	dim  Dimension
	col  pointset.Column
	axis int
}

// WriteRecords appends every row of rs. Columns are matched to dimensions by
// name; x, y and z are quantized into the raw coordinates. Dimensions with no
// column are written as zero. Columns that match no dimension are an error.
func (w *Writer) WriteRecords(rs *pointset.RecordSet) error {
	if w.closed {
		return fmt.Errorf("write to closed writer")
	}
	writers, err := w.bind(rs)
	if err != nil {
		return err
	}
	returnDim, hasReturns := w.format.Dimension("return_number")

	rec := make([]byte, w.format.Size)
	var coords Vector3
	for i := 0; i < rs.Len(); i++ {
		clear(rec)
		for _, cw := range writers {
			if err := w.put(rec, cw, i, &coords); err != nil {
				return err
			}
		}
		if _, err := w.buf.Write(rec); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "writing point record")
		}
		for a := 0; a < 3; a++ {
			w.min[a] = math.Min(w.min[a], coords[a])
			w.max[a] = math.Max(w.max[a], coords[a])
		}
		if hasReturns {
			if rn := returnDim.Unsigned(rec); rn >= 1 && int(rn) <= len(w.byReturn) {
				w.byReturn[rn-1]++
			}
		}
		w.count++
	}
	return nil
}

func (w *Writer) bind(rs *pointset.RecordSet) ([]columnWriter, error) {
	var writers []columnWriter
	for axis, name := range CoordinateColumns {
		col, ok := rs.Column(name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeUnsupportedColumn, "record set has no %q column", name)
		}
		d, _ := w.format.Dimension([]string{DimX, DimY, DimZ}[axis])
		writers = append(writers, columnWriter{dim: d, col: col, axis: axis})
	}
	for _, col := range rs.Columns() {
		name := col.Name()
		if name == ColumnX || name == ColumnY || name == ColumnZ {
			continue
		}
		d, ok := w.format.Dimension(name)
		if !ok || isRawCoordinate(name) {
			return nil, errors.Newf(errors.ErrorTypeUnsupportedColumn,
				"point format %d has no dimension %q", w.format.ID, name)
		}
		writers = append(writers, columnWriter{dim: d, col: col, axis: -1})
	}
	return writers, nil
}

func (w *Writer) put(rec []byte, cw columnWriter, row int, coords *Vector3) error {
	d, col := cw.dim, cw.col
	fail := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrorTypeUnsupportedColumn, format, args...).
			WithDetail("column", col.Name()).
			WithDetail("row", row)
	}

	if col.IsNull(row) {
		if d.HasNoData {
			return putRaw(rec, d, d.NoData)
		}
		return fail("column %q has a missing value at row %d", col.Name(), row)
	}

	if cw.axis >= 0 {
		v := col.AsFloat(row)
		scale, offset := w.header.Scale[cw.axis], w.header.Offset[cw.axis]
		q, err := Quantize(v, scale, offset)
		if err != nil {
			return fail("column %q row %d: %v", col.Name(), row, err)
		}
		coords[cw.axis] = float64(q)*scale + offset
		return d.PutSigned(rec, int64(q))
	}

	if d.Scaled {
		raw := math.Round((col.AsFloat(row) - d.ValueOffset) / d.Scale)
		if err := putRaw(rec, d, raw); err != nil {
			return fail("%v", err)
		}
		return nil
	}

	var err error
	switch d.Kind {
	case KindFloat:
		err = d.PutFloat(rec, col.AsFloat(row))
	case KindSigned:
		v, ok := col.AsInt(row)
		if !ok {
			return fail("value %v of column %q is not an integer", col.AsFloat(row), col.Name())
		}
		err = d.PutSigned(rec, v)
	default:
		v, ok := col.AsUint(row)
		if !ok {
			return fail("value %v of column %q is not an unsigned integer", col.AsFloat(row), col.Name())
		}
		err = d.PutUnsigned(rec, v)
	}
	if err != nil {
		return fail("%v", err)
	}
	return nil
}

func putRaw(rec []byte, d Dimension, v float64) error {
	switch d.Kind {
	case KindFloat:
		return d.PutFloat(rec, v)
	case KindSigned:
		if math.IsNaN(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return fmt.Errorf("value %v out of range for %q", v, d.Name)
		}
		return d.PutSigned(rec, int64(v))
	default:
		if math.IsNaN(v) || v < 0 || v >= math.MaxUint64 {
			return fmt.Errorf("value %v out of range for %q", v, d.Name)
		}
		return d.PutUnsigned(rec, uint64(v))
	}
}

// Quantize converts a real-world coordinate into its stored integer form,
// failing when the result does not fit an int32.
func Quantize(v, scale, offset float64) (int32, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite coordinate %v", v)
	}
	q := math.Round((v - offset) / scale)
	if q < math.MinInt32 || q > math.MaxInt32 {
		return 0, fmt.Errorf("coordinate %v overflows int32 at scale %g offset %g", v, scale, offset)
	}
	return int32(q), nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() uint64 { return w.count }

// Close finalizes the header and atomically replaces the destination.
func (w *Writer) Close() (*Header, error) {
	if w.closed {
		return nil, fmt.Errorf("writer already closed")
	}
	h := w.header
	h.PointCount = w.count
	h.PointsByReturn = w.byReturn
	if w.count > 0 {
		h.Min, h.Max = w.min, w.max
	} else {
		h.Min, h.Max = Vector3{}, Vector3{}
	}

	evlrStart := uint64(h.PointOffset) + w.count*uint64(w.format.Size)
	for _, v := range w.evlrs {
		if _, err := w.buf.Write(encodeVLR(v)); err != nil {
			w.Abort()
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "writing EVLR")
		}
	}
	if len(w.evlrs) == 0 {
		evlrStart = 0
	}
	if err := w.buf.Flush(); err != nil {
		w.Abort()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "flushing point data")
	}

	vlrCount := 0
	if len(h.ExtraBytes) > 0 {
		vlrCount++
	}
	for _, v := range h.VLRs {
		if !v.Extended && len(v.Data) <= math.MaxUint16 {
			vlrCount++
		}
	}
	if _, err := w.tmp.WriteAt(h.encode(uint32(vlrCount), evlrStart, uint32(len(w.evlrs))), 0); err != nil {
		w.Abort()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "writing final header")
	}
	if err := w.tmp.Sync(); err != nil {
		w.Abort()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "syncing output")
	}
	if err := w.tmp.Close(); err != nil {
		w.closed = true
		os.Remove(w.tmp.Name())
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "closing output")
	}
	w.closed = true
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "replacing destination").WithDetail("path", w.path)
	}
	return h.Clone(), nil
}

// Abort discards the temporary output. It is safe to call after Close.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// WriteFile writes rs to path in one call.
func WriteFile(path string, h *Header, rs *pointset.RecordSet) (*Header, error) {
	w, err := Create(path, h)
	if err != nil {
		return nil, err
	}
	if err := w.WriteRecords(rs); err != nil {
		w.Abort()
		return nil, err
	}
	return w.Close()
}
