package las

import (
	"encoding/binary"
	"math"

	"github.com/ajitpratap0/lasprep/pkg/errors"
)

const extraBytesDescriptorSize = 192

// Extra-bytes data types.
const (
	ExtraUndocumented uint8 = iota
	ExtraUint8
	ExtraInt8
	ExtraUint16
	ExtraInt16
	ExtraUint32
	ExtraInt32
	ExtraUint64
	ExtraInt64
	ExtraFloat32
	ExtraFloat64
)

// Extra-bytes option bits.
const (
	ExtraOptionNoData uint8 = 1 << iota
	ExtraOptionMin
	ExtraOptionMax
	ExtraOptionScale
	ExtraOptionOffset
)

// ExtraBytes is one descriptor of the extra-bytes VLR: a named dimension
// stored after the standard fields of each point record.
type ExtraBytes struct {
	Name        string  `json:"name"`
	DataType    uint8   `json:"data_type"`
	Options     uint8   `json:"options"`
	Description string  `json:"description,omitempty"`
	NoData      float64 `json:"no_data,omitempty"`
	Min         float64 `json:"min,omitempty"`
	Max         float64 `json:"max,omitempty"`
	Scale       float64 `json:"scale,omitempty"`
	Offset      float64 `json:"offset,omitempty"`
}

// NewExtraBytes describes a plain, untransformed extra dimension.
func NewExtraBytes(name string, dataType uint8, description string) ExtraBytes {
	return ExtraBytes{Name: name, DataType: dataType, Description: description}
}

func (eb ExtraBytes) kind() Kind {
	switch eb.DataType {
	case ExtraInt8, ExtraInt16, ExtraInt32, ExtraInt64:
		return KindSigned
	case ExtraFloat32, ExtraFloat64:
		return KindFloat
	default:
		return KindUnsigned
	}
}

// size returns the number of record bytes the descriptor occupies, or 0 for
// data types this package cannot lay out.
func (eb ExtraBytes) size() int {
	switch eb.DataType {
	case ExtraUndocumented:
		return int(eb.Options)
	case ExtraUint8, ExtraInt8:
		return 1
	case ExtraUint16, ExtraInt16:
		return 2
	case ExtraUint32, ExtraInt32, ExtraFloat32:
		return 4
	case ExtraUint64, ExtraInt64, ExtraFloat64:
		return 8
	default:
		return 0
	}
}

// dimension maps the descriptor to a record dimension at byte offset off.
// Undocumented bytes yield an unnamed dimension that callers skip.
func (eb ExtraBytes) dimension(off int) (Dimension, error) {
	if eb.DataType == ExtraUndocumented {
		return Dimension{}, nil
	}
	size := eb.size()
	if size == 0 {
		return Dimension{}, errors.Newf(errors.ErrorTypeFormat,
			"extra dimension %q uses unsupported data type %d", eb.Name, eb.DataType)
	}
	d := Dimension{
		Name:   eb.Name,
		Kind:   eb.kind(),
		Offset: off,
		Size:   size,
		Extra:  true,
		Scale:  1,
	}
	if eb.Options&ExtraOptionScale != 0 {
		d.Scaled = true
		d.Scale = eb.Scale
	}
	if eb.Options&ExtraOptionOffset != 0 {
		d.Scaled = true
		d.ValueOffset = eb.Offset
	}
	if eb.Options&ExtraOptionNoData != 0 {
		d.HasNoData = true
		d.NoData = eb.NoData
	}
	return d, nil
}

// anyType fields hold a u64, i64 or f64 depending on the descriptor kind.
func (eb ExtraBytes) decodeAny(b []byte) float64 {
	raw := binary.LittleEndian.Uint64(b)
	switch eb.kind() {
	case KindSigned:
		return float64(int64(raw))
	case KindFloat:
		return math.Float64frombits(raw)
	default:
		return float64(raw)
	}
}

func (eb ExtraBytes) encodeAny(b []byte, v float64) {
	var raw uint64
	switch eb.kind() {
	case KindSigned:
		raw = uint64(int64(v))
	case KindFloat:
		raw = math.Float64bits(v)
	default:
		raw = uint64(v)
	}
	binary.LittleEndian.PutUint64(b, raw)
}

func decodeExtraBytes(data []byte) ([]ExtraBytes, error) {
	if len(data)%extraBytesDescriptorSize != 0 {
		return nil, errors.Newf(errors.ErrorTypeFormat,
			"extra-bytes VLR length %d is not a multiple of %d", len(data), extraBytesDescriptorSize)
	}
	le := binary.LittleEndian
	out := make([]ExtraBytes, 0, len(data)/extraBytesDescriptorSize)
	for p := 0; p < len(data); p += extraBytesDescriptorSize {
		b := data[p : p+extraBytesDescriptorSize]
		eb := ExtraBytes{
			DataType:    b[2],
			Options:     b[3],
			Name:        fixedString(b[4:36]),
			Description: fixedString(b[160:192]),
		}
		eb.NoData = eb.decodeAny(b[40:])
		eb.Min = eb.decodeAny(b[64:])
		eb.Max = eb.decodeAny(b[88:])
		eb.Scale = math.Float64frombits(le.Uint64(b[112:]))
		eb.Offset = math.Float64frombits(le.Uint64(b[136:]))
		out = append(out, eb)
	}
	return out, nil
}

func encodeExtraBytes(ebs []ExtraBytes) []byte {
	le := binary.LittleEndian
	data := make([]byte, len(ebs)*extraBytesDescriptorSize)
	for i, eb := range ebs {
		b := data[i*extraBytesDescriptorSize : (i+1)*extraBytesDescriptorSize]
		b[2] = eb.DataType
		b[3] = eb.Options
		putFixedString(b[4:36], eb.Name)
		eb.encodeAny(b[40:], eb.NoData)
		eb.encodeAny(b[64:], eb.Min)
		eb.encodeAny(b[88:], eb.Max)
		le.PutUint64(b[112:], math.Float64bits(eb.Scale))
		le.PutUint64(b[136:], math.Float64bits(eb.Offset))
		putFixedString(b[160:192], eb.Description)
	}
	return data
}

func extraBytesVLR(ebs []ExtraBytes) VLR {
	return VLR{
		UserID:      SpecUserID,
		RecordID:    extraBytesRecordID,
		Description: "Extra Bytes",
		Data:        encodeExtraBytes(ebs),
	}
}
