package las

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind is the storage class of a dimension.
type Kind int

const (
	KindUnsigned Kind = iota
	KindSigned
	KindFloat
)

// Dimension describes where one named value lives inside a point record.
type Dimension struct {
	Name   string
	Kind   Kind
	Offset int  // byte offset inside the record
	Size   int  // 1, 2, 4 or 8 bytes
	Shift  uint // bit offset for packed fields
	Bits   uint // width of packed fields, 0 for whole-byte fields

	// Extra-bytes dimensions may declare a linear transform and a no-data value.
	Extra       bool
	Scaled      bool
	Scale       float64
	ValueOffset float64
	HasNoData   bool
	NoData      float64
}

// IsFlag reports whether the dimension is a single bit.
func (d Dimension) IsFlag() bool { return d.Bits == 1 }

// BitWidth returns the number of value bits the dimension can hold.
func (d Dimension) BitWidth() uint {
	if d.Bits > 0 {
		return d.Bits
	}
	return uint(d.Size * 8)
}

// Coordinate dimension names. Raw X, Y, Z hold quantized integers; the
// lowercase names are the scaled real-world values.
const (
	DimX = "X"
	DimY = "Y"
	DimZ = "Z"
)

// PointFormat is the layout of one point data record format.
type PointFormat struct {
	ID         uint8
	Size       int
	Dimensions []Dimension
}

// Dimension looks up a dimension by name.
func (f *PointFormat) Dimension(name string) (Dimension, bool) {
	for _, d := range f.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// DimensionNames lists the dimension names in record order.
func (f *PointFormat) DimensionNames() []string {
	names := make([]string, len(f.Dimensions))
	for i, d := range f.Dimensions {
		names[i] = d.Name
	}
	return names
}

// IsLegacy reports whether the format is one of the pre-1.4 formats 0-5.
func (f *PointFormat) IsLegacy() bool { return f.ID <= 5 }

// HasGPSTime reports whether records carry a gps_time value.
func (f *PointFormat) HasGPSTime() bool {
	_, ok := f.Dimension("gps_time")
	return ok
}

// MaxReturns is the number of distinct return numbers the format can encode.
func (f *PointFormat) MaxReturns() int {
	if f.IsLegacy() {
		return 5
	}
	return 15
}

func unsigned(name string, off, size int) Dimension {
	return Dimension{Name: name, Kind: KindUnsigned, Offset: off, Size: size}
}

func signed(name string, off, size int) Dimension {
	return Dimension{Name: name, Kind: KindSigned, Offset: off, Size: size}
}

func float(name string, off, size int) Dimension {
	return Dimension{Name: name, Kind: KindFloat, Offset: off, Size: size}
}

func bits(name string, off int, shift, width uint) Dimension {
	return Dimension{Name: name, Kind: KindUnsigned, Offset: off, Size: 1, Shift: shift, Bits: width}
}

func legacyCore() []Dimension {
	return []Dimension{
		signed(DimX, 0, 4),
		signed(DimY, 4, 4),
		signed(DimZ, 8, 4),
		unsigned("intensity", 12, 2),
		bits("return_number", 14, 0, 3),
		bits("number_of_returns", 14, 3, 3),
		bits("scan_direction_flag", 14, 6, 1),
		bits("edge_of_flight_line", 14, 7, 1),
		bits("classification", 15, 0, 5),
		bits("synthetic", 15, 5, 1),
		bits("key_point", 15, 6, 1),
		bits("withheld", 15, 7, 1),
		signed("scan_angle_rank", 16, 1),
		unsigned("user_data", 17, 1),
		unsigned("point_source_id", 18, 2),
	}
}

func extendedCore() []Dimension {
	return []Dimension{
		signed(DimX, 0, 4),
		signed(DimY, 4, 4),
		signed(DimZ, 8, 4),
		unsigned("intensity", 12, 2),
		bits("return_number", 14, 0, 4),
		bits("number_of_returns", 14, 4, 4),
		bits("synthetic", 15, 0, 1),
		bits("key_point", 15, 1, 1),
		bits("withheld", 15, 2, 1),
		bits("overlap", 15, 3, 1),
		bits("scanner_channel", 15, 4, 2),
		bits("scan_direction_flag", 15, 6, 1),
		bits("edge_of_flight_line", 15, 7, 1),
		unsigned("classification", 16, 1),
		unsigned("user_data", 17, 1),
		signed("scan_angle", 18, 2),
		unsigned("point_source_id", 20, 2),
		float("gps_time", 22, 8),
	}
}

func gpsTime(off int) []Dimension { return []Dimension{float("gps_time", off, 8)} }

func rgb(off int) []Dimension {
	return []Dimension{
		unsigned("red", off, 2),
		unsigned("green", off+2, 2),
		unsigned("blue", off+4, 2),
	}
}

func nir(off int) []Dimension { return []Dimension{unsigned("nir", off, 2)} }

func wavePacket(off int) []Dimension {
	return []Dimension{
		unsigned("wavepacket_index", off, 1),
		unsigned("wavepacket_offset", off+1, 8),
		unsigned("wavepacket_size", off+9, 4),
		float("return_point_wave_location", off+13, 4),
		float("x_t", off+17, 4),
		float("y_t", off+21, 4),
		float("z_t", off+25, 4),
	}
}

func join(parts ...[]Dimension) []Dimension {
	var out []Dimension
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var standardFormats = map[uint8]PointFormat{
	0:  {ID: 0, Size: 20, Dimensions: legacyCore()},
	1:  {ID: 1, Size: 28, Dimensions: join(legacyCore(), gpsTime(20))},
	2:  {ID: 2, Size: 26, Dimensions: join(legacyCore(), rgb(20))},
	3:  {ID: 3, Size: 34, Dimensions: join(legacyCore(), gpsTime(20), rgb(28))},
	4:  {ID: 4, Size: 57, Dimensions: join(legacyCore(), gpsTime(20), wavePacket(28))},
	5:  {ID: 5, Size: 63, Dimensions: join(legacyCore(), gpsTime(20), rgb(28), wavePacket(34))},
	6:  {ID: 6, Size: 30, Dimensions: extendedCore()},
	7:  {ID: 7, Size: 36, Dimensions: join(extendedCore(), rgb(30))},
	8:  {ID: 8, Size: 38, Dimensions: join(extendedCore(), rgb(30), nir(36))},
	9:  {ID: 9, Size: 59, Dimensions: join(extendedCore(), wavePacket(30))},
	10: {ID: 10, Size: 67, Dimensions: join(extendedCore(), rgb(30), nir(36), wavePacket(38))},
}

// StandardFormat returns the standard layout of a point format, without
// extra bytes.
func StandardFormat(id uint8) (PointFormat, error) {
	f, ok := standardFormats[id]
	if !ok {
		return PointFormat{}, fmt.Errorf("unsupported point format %d", id)
	}
	f.Dimensions = append([]Dimension(nil), f.Dimensions...)
	return f, nil
}

// FormatFor returns the layout of a header's point format: the standard
// dimensions followed by any extra-bytes dimensions.
func FormatFor(h *Header) (PointFormat, error) {
	f, err := StandardFormat(h.PointFormat)
	if err != nil {
		return PointFormat{}, err
	}
	off := f.Size
	for _, eb := range h.ExtraBytes {
		d, err := eb.dimension(off)
		if err != nil {
			return PointFormat{}, err
		}
		if d.Name != "" {
			f.Dimensions = append(f.Dimensions, d)
		}
		off += eb.size()
	}
	if int(h.PointRecordLength) > off {
		off = int(h.PointRecordLength)
	}
	f.Size = off
	return f, nil
}

// readUint decodes the raw little-endian storage of a dimension.
func (d Dimension) readUint(rec []byte) uint64 {
	b := rec[d.Offset : d.Offset+d.Size]
	var v uint64
	switch d.Size {
	case 1:
		v = uint64(b[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		v = binary.LittleEndian.Uint64(b)
	}
	if d.Bits > 0 {
		v = (v >> d.Shift) & (1<<d.Bits - 1)
	}
	return v
}

// Unsigned decodes an unsigned dimension.
func (d Dimension) Unsigned(rec []byte) uint64 { return d.readUint(rec) }

// Signed decodes a signed dimension with sign extension.
func (d Dimension) Signed(rec []byte) int64 {
	v := d.readUint(rec)
	shift := 64 - d.BitWidth()
	return int64(v<<shift) >> shift
}

// Float decodes a float dimension.
func (d Dimension) Float(rec []byte) float64 {
	switch d.Size {
	case 4:
		return float64(math.Float32frombits(uint32(d.readUint(rec))))
	default:
		return math.Float64frombits(d.readUint(rec))
	}
}

// Value decodes the dimension as a float64, applying the extra-bytes
// transform when one is declared.
func (d Dimension) Value(rec []byte) float64 {
	var v float64
	switch d.Kind {
	case KindSigned:
		v = float64(d.Signed(rec))
	case KindFloat:
		v = d.Float(rec)
	default:
		v = float64(d.Unsigned(rec))
	}
	if d.Scaled {
		v = v*d.Scale + d.ValueOffset
	}
	return v
}

// writeUint stores raw bits. Packed fields are OR-ed into a zeroed record.
func (d Dimension) writeUint(rec []byte, v uint64) {
	b := rec[d.Offset : d.Offset+d.Size]
	if d.Bits > 0 {
		b[0] |= byte((v & (1<<d.Bits - 1)) << d.Shift)
		return
	}
	switch d.Size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}

// PutUnsigned stores v, failing when it does not fit the dimension width.
func (d Dimension) PutUnsigned(rec []byte, v uint64) error {
	if w := d.BitWidth(); w < 64 && v >= 1<<w {
		return fmt.Errorf("value %d exceeds %d-bit dimension %q", v, w, d.Name)
	}
	d.writeUint(rec, v)
	return nil
}

// PutSigned stores v, failing when it does not fit the dimension width.
func (d Dimension) PutSigned(rec []byte, v int64) error {
	w := d.BitWidth()
	if w < 64 {
		lo, hi := -int64(1)<<(w-1), int64(1)<<(w-1)-1
		if v < lo || v > hi {
			return fmt.Errorf("value %d exceeds %d-bit signed dimension %q", v, w, d.Name)
		}
	}
	d.writeUint(rec, uint64(v)&(uint64(1)<<w-1))
	return nil
}

// PutFloat stores v in a float dimension.
func (d Dimension) PutFloat(rec []byte, v float64) error {
	switch d.Size {
	case 4:
		if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
			return fmt.Errorf("value %g exceeds float32 dimension %q", v, d.Name)
		}
		d.writeUint(rec, uint64(math.Float32bits(float32(v))))
	default:
		d.writeUint(rec, math.Float64bits(v))
	}
	return nil
}
