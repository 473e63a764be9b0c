// Package las reads and writes ASPRS LAS point-cloud files.
//
// Versions 1.0 through 1.4 and point formats 0 through 10 are decoded
// through a table of dimension layouts, so readers and writers share one
// description of every record format. Extra-bytes dimensions are exposed as
// ordinary named dimensions. Compressed LAZ data is not decoded here; see
// Transcoder.
package las

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ajitpratap0/lasprep/pkg/errors"
)

const (
	signature = "LASF"

	headerSize12 = 227
	headerSize13 = 235
	headerSize14 = 375

	vlrHeaderSize  = 54
	evlrHeaderSize = 60

	// Point format ids with either of the two high bits set hold LASzip
	// compressed records.
	compressedFormatMask = 0xC0

	// Global encoding bit signalling an OGC WKT coordinate system.
	globalEncodingWKT = 1 << 4

	// SpecUserID is the VLR user id reserved by the LAS specification.
	SpecUserID = "LASF_Spec"
	// ProjectionUserID is the VLR user id for coordinate system records.
	ProjectionUserID = "LASF_Projection"

	extraBytesRecordID = 4
	wktRecordID        = 2112
)

// Version is a LAS major.minor version.
type Version struct {
	Major uint8 `json:"major"`
	Minor uint8 `json:"minor"`
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// AtLeast reports whether v is minor or later within major version 1.
func (v Version) AtLeast(minor uint8) bool { return v.Major > 1 || (v.Major == 1 && v.Minor >= minor) }

// Vector3 is a per-axis triple.
type Vector3 [3]float64

// VLR is a variable length record. Extended records (EVLRs) use the same type.
type VLR struct {
	UserID      string `json:"user_id"`
	RecordID    uint16 `json:"record_id"`
	Description string `json:"description"`
	Data        []byte `json:"-"`
	Extended    bool   `json:"extended"`
}

// Header holds the LAS public header block, the parsed extra-bytes
// descriptors and the remaining variable length records.
type Header struct {
	Version            Version    `json:"version"`
	FileSourceID       uint16     `json:"file_source_id"`
	GlobalEncoding     uint16     `json:"global_encoding"`
	ProjectID          [16]byte   `json:"-"`
	SystemIdentifier   string     `json:"system_identifier"`
	GeneratingSoftware string     `json:"generating_software"`
	CreationDay        uint16     `json:"creation_day"`
	CreationYear       uint16     `json:"creation_year"`
	PointFormat        uint8      `json:"point_format"`
	PointRecordLength  uint16     `json:"point_record_length"`
	PointCount         uint64     `json:"point_count"`
	PointsByReturn     [15]uint64 `json:"points_by_return"`
	Scale              Vector3    `json:"scale"`
	Offset             Vector3    `json:"offset"`
	Min                Vector3    `json:"min"`
	Max                Vector3    `json:"max"`
	Compressed         bool       `json:"compressed"`

	ExtraBytes []ExtraBytes `json:"extra_bytes"`
	VLRs       []VLR        `json:"vlrs"`

	// Read-side layout information; recomputed on write.
	HeaderSize    uint16 `json:"-"`
	PointOffset   uint32 `json:"-"`
	waveformStart uint64
	evlrStart     uint64
	evlrCount     uint32
}

// Clone returns a deep copy of the header.
func (h *Header) Clone() *Header {
	c := *h
	c.ExtraBytes = append([]ExtraBytes(nil), h.ExtraBytes...)
	c.VLRs = make([]VLR, len(h.VLRs))
	for i, v := range h.VLRs {
		v.Data = append([]byte(nil), v.Data...)
		c.VLRs[i] = v
	}
	return &c
}

// HasWKT reports whether the header carries an OGC WKT coordinate system VLR.
func (h *Header) HasWKT() bool {
	for _, v := range h.VLRs {
		if v.UserID == ProjectionUserID && v.RecordID == wktRecordID {
			return true
		}
	}
	return false
}

// AddExtraDimension appends an extra-bytes dimension and widens the record.
func (h *Header) AddExtraDimension(eb ExtraBytes) error {
	for _, existing := range h.ExtraBytes {
		if existing.Name == eb.Name {
			return fmt.Errorf("extra dimension %q already defined", eb.Name)
		}
	}
	if eb.size() == 0 {
		return fmt.Errorf("extra dimension %q has unsupported data type %d", eb.Name, eb.DataType)
	}
	h.ExtraBytes = append(h.ExtraBytes, eb)
	return nil
}

// recordLength returns the standard record size plus all extra bytes.
func (h *Header) recordLength() (int, error) {
	f, err := StandardFormat(h.PointFormat)
	if err != nil {
		return 0, err
	}
	n := f.Size
	for _, eb := range h.ExtraBytes {
		n += eb.size()
	}
	return n, nil
}

func fixedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " ")
}

func putFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// decodeHeader parses the public header block from the start of a file.
func decodeHeader(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, headerSize14)
	n, err := r.ReadAt(buf, 0)
	if n < headerSize12 {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "file too short for a LAS header")
	}
	if string(buf[0:4]) != signature {
		return nil, errors.New(errors.ErrorTypeFormat, "missing LASF signature")
	}

	le := binary.LittleEndian
	h := &Header{
		FileSourceID:       le.Uint16(buf[4:]),
		GlobalEncoding:     le.Uint16(buf[6:]),
		Version:            Version{Major: buf[24], Minor: buf[25]},
		SystemIdentifier:   fixedString(buf[26:58]),
		GeneratingSoftware: fixedString(buf[58:90]),
		CreationDay:        le.Uint16(buf[90:]),
		CreationYear:       le.Uint16(buf[92:]),
		HeaderSize:         le.Uint16(buf[94:]),
		PointOffset:        le.Uint32(buf[96:]),
		PointRecordLength:  le.Uint16(buf[105:]),
	}
	copy(h.ProjectID[:], buf[8:24])

	vlrCount := le.Uint32(buf[100:])
	formatByte := buf[104]
	h.Compressed = formatByte&compressedFormatMask != 0
	h.PointFormat = formatByte &^ compressedFormatMask

	if int(h.HeaderSize) > n || h.HeaderSize < headerSize12 {
		return nil, errors.Newf(errors.ErrorTypeFormat, "invalid header size %d", h.HeaderSize)
	}

	h.PointCount = uint64(le.Uint32(buf[107:]))
	for i := 0; i < 5; i++ {
		h.PointsByReturn[i] = uint64(le.Uint32(buf[111+4*i:]))
	}
	for i := 0; i < 3; i++ {
		h.Scale[i] = math.Float64frombits(le.Uint64(buf[131+8*i:]))
		h.Offset[i] = math.Float64frombits(le.Uint64(buf[155+8*i:]))
		h.Max[i] = math.Float64frombits(le.Uint64(buf[179+16*i:]))
		h.Min[i] = math.Float64frombits(le.Uint64(buf[187+16*i:]))
	}

	if h.Version.AtLeast(3) && h.HeaderSize >= headerSize13 {
		h.waveformStart = le.Uint64(buf[227:])
	}
	if h.Version.AtLeast(4) && h.HeaderSize >= headerSize14 {
		h.evlrStart = le.Uint64(buf[235:])
		h.evlrCount = le.Uint32(buf[243:])
		if count := le.Uint64(buf[247:]); count != 0 || h.PointCount == 0 {
			h.PointCount = count
			for i := 0; i < 15; i++ {
				h.PointsByReturn[i] = le.Uint64(buf[255+8*i:])
			}
		}
	}

	for i := 0; i < 3; i++ {
		if h.Scale[i] == 0 || math.IsNaN(h.Scale[i]) || math.IsInf(h.Scale[i], 0) {
			return nil, errors.Newf(errors.ErrorTypeFormat, "invalid scale %v on axis %d", h.Scale[i], i)
		}
	}

	if err := h.readVLRs(r, vlrCount); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) readVLRs(r io.ReaderAt, count uint32) error {
	le := binary.LittleEndian
	pos := int64(h.HeaderSize)
	head := make([]byte, evlrHeaderSize)
	for i := uint32(0); i < count; i++ {
		if _, err := r.ReadAt(head[:vlrHeaderSize], pos); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFormat, "reading VLR header").WithDetail("index", i)
		}
		v := VLR{
			UserID:      fixedString(head[2:18]),
			RecordID:    le.Uint16(head[18:]),
			Description: fixedString(head[22:54]),
		}
		length := int64(le.Uint16(head[20:]))
		v.Data = make([]byte, length)
		if _, err := r.ReadAt(v.Data, pos+vlrHeaderSize); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFormat, "reading VLR payload").WithDetail("index", i)
		}
		pos += vlrHeaderSize + length
		if err := h.attachVLR(v); err != nil {
			return err
		}
	}

	if h.evlrCount == 0 || h.evlrStart == 0 {
		return nil
	}
	pos = int64(h.evlrStart)
	for i := uint32(0); i < h.evlrCount; i++ {
		if _, err := r.ReadAt(head, pos); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFormat, "reading EVLR header").WithDetail("index", i)
		}
		v := VLR{
			UserID:      fixedString(head[2:18]),
			RecordID:    le.Uint16(head[18:]),
			Description: fixedString(head[28:60]),
			Extended:    true,
		}
		length := le.Uint64(head[20:])
		if length > 1<<30 {
			return errors.Newf(errors.ErrorTypeFormat, "EVLR %d too large: %d bytes", i, length)
		}
		v.Data = make([]byte, length)
		if _, err := r.ReadAt(v.Data, pos+evlrHeaderSize); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFormat, "reading EVLR payload").WithDetail("index", i)
		}
		pos += evlrHeaderSize + int64(length)
		if err := h.attachVLR(v); err != nil {
			return err
		}
	}
	return nil
}

// attachVLR keeps a VLR, parsing extra-bytes descriptors into ExtraBytes.
func (h *Header) attachVLR(v VLR) error {
	if v.UserID == SpecUserID && v.RecordID == extraBytesRecordID {
		ebs, err := decodeExtraBytes(v.Data)
		if err != nil {
			return err
		}
		h.ExtraBytes = append(h.ExtraBytes, ebs...)
		return nil
	}
	h.VLRs = append(h.VLRs, v)
	return nil
}

// encode lays out a version 1.2-1.4 header for the given layout values.
func (h *Header) encode(vlrCount uint32, evlrStart uint64, evlrCount uint32) []byte {
	size := headerSizeFor(h.Version)
	buf := make([]byte, size)
	le := binary.LittleEndian

	copy(buf[0:4], signature)
	le.PutUint16(buf[4:], h.FileSourceID)
	le.PutUint16(buf[6:], h.GlobalEncoding)
	copy(buf[8:24], h.ProjectID[:])
	buf[24], buf[25] = h.Version.Major, h.Version.Minor
	putFixedString(buf[26:58], h.SystemIdentifier)
	putFixedString(buf[58:90], h.GeneratingSoftware)
	le.PutUint16(buf[90:], h.CreationDay)
	le.PutUint16(buf[92:], h.CreationYear)
	le.PutUint16(buf[94:], uint16(size))
	le.PutUint32(buf[96:], h.PointOffset)
	le.PutUint32(buf[100:], vlrCount)
	buf[104] = h.PointFormat
	le.PutUint16(buf[105:], h.PointRecordLength)

	// Legacy 32-bit counts are only meaningful for formats 0-5 and must be
	// zero otherwise.
	if h.PointFormat <= 5 && h.PointCount <= math.MaxUint32 {
		le.PutUint32(buf[107:], uint32(h.PointCount))
		for i := 0; i < 5; i++ {
			le.PutUint32(buf[111+4*i:], uint32(h.PointsByReturn[i]))
		}
	}
	for i := 0; i < 3; i++ {
		le.PutUint64(buf[131+8*i:], math.Float64bits(h.Scale[i]))
		le.PutUint64(buf[155+8*i:], math.Float64bits(h.Offset[i]))
		le.PutUint64(buf[179+16*i:], math.Float64bits(h.Max[i]))
		le.PutUint64(buf[187+16*i:], math.Float64bits(h.Min[i]))
	}
	if size >= headerSize13 {
		le.PutUint64(buf[227:], 0)
	}
	if size >= headerSize14 {
		le.PutUint64(buf[235:], evlrStart)
		le.PutUint32(buf[243:], evlrCount)
		le.PutUint64(buf[247:], h.PointCount)
		for i := 0; i < 15; i++ {
			le.PutUint64(buf[255+8*i:], h.PointsByReturn[i])
		}
	}
	return buf
}

func headerSizeFor(v Version) int {
	switch {
	case v.AtLeast(4):
		return headerSize14
	case v.AtLeast(3):
		return headerSize13
	default:
		return headerSize12
	}
}

func encodeVLR(v VLR) []byte {
	le := binary.LittleEndian
	if v.Extended {
		buf := make([]byte, evlrHeaderSize+len(v.Data))
		putFixedString(buf[2:18], v.UserID)
		le.PutUint16(buf[18:], v.RecordID)
		le.PutUint64(buf[20:], uint64(len(v.Data)))
		putFixedString(buf[28:60], v.Description)
		copy(buf[evlrHeaderSize:], v.Data)
		return buf
	}
	buf := make([]byte, vlrHeaderSize+len(v.Data))
	putFixedString(buf[2:18], v.UserID)
	le.PutUint16(buf[18:], v.RecordID)
	le.PutUint16(buf[20:], uint16(len(v.Data)))
	putFixedString(buf[22:54], v.Description)
	copy(buf[vlrHeaderSize:], v.Data)
	return buf
}
