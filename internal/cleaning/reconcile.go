package cleaning

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/las"
	"github.com/ajitpratap0/lasprep/pkg/pointset"
)

// Canonical output layout.
const (
	TargetPointFormat = 6
	DefaultScale      = 1e-6
	// GeneratingSoftware is stamped into every header this package writes.
	GeneratingSoftware = "lasprep"
)

// TargetVersion is the LAS version of every cleaned file.
var TargetVersion = las.Version{Major: 1, Minor: 4}

// Debug dimensions added on request as boolean-valued uint8 extra bytes.
var DebugDimensions = []string{"unclassified", "manually_labelled"}

// Default scale search runs over powers of ten from DefaultScale up to 1e6.
const (
	defaultScaleExp = -6
	maxScaleExp     = 6
)

// ReconcileOptions controls header derivation.
type ReconcileOptions struct {
	// Reference supplies scale, offset and file identity. When nil they are
	// derived from the data extent.
	Reference          *las.Header
	OverridePointCount bool
	AddDebugDimensions bool
	// Now stamps the creation date when there is no reference. Defaults to
	// time.Now.
	Now func() time.Time
}

// Reconcile derives the header used to write records: LAS 1.4, point format
// 6, with quantization copied from the reference or computed from the data.
func Reconcile(records *pointset.RecordSet, opts ReconcileOptions) (*las.Header, error) {
	h := &las.Header{
		Version:            TargetVersion,
		PointFormat:        TargetPointFormat,
		GeneratingSoftware: GeneratingSoftware,
	}

	if ref := opts.Reference; ref != nil {
		h.Scale = ref.Scale
		h.Offset = ref.Offset
		h.FileSourceID = ref.FileSourceID
		h.GlobalEncoding = ref.GlobalEncoding
		h.ProjectID = ref.ProjectID
		h.SystemIdentifier = ref.SystemIdentifier
		h.CreationDay = ref.CreationDay
		h.CreationYear = ref.CreationYear
		for _, v := range ref.VLRs {
			v.Data = append([]byte(nil), v.Data...)
			h.VLRs = append(h.VLRs, v)
		}
	} else {
		scale, offset, err := DefaultQuantization(records)
		if err != nil {
			return nil, err
		}
		h.Scale, h.Offset = scale, offset
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		t := now().UTC()
		h.CreationDay = uint16(t.YearDay())
		h.CreationYear = uint16(t.Year())
	}

	if opts.AddDebugDimensions {
		for _, name := range DebugDimensions {
			if err := h.AddExtraDimension(las.NewExtraBytes(name, las.ExtraUint8, name)); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFileProcessing, "adding debug dimension")
			}
		}
	}

	if opts.OverridePointCount {
		h.PointCount = uint64(records.Len())
	}
	return h, nil
}

// DefaultQuantization computes per-axis scale and offset for records with
// no reference header. The offset is floor(min); the scale starts at
// DefaultScale and grows by 10x until the extent fits an int32.
func DefaultQuantization(records *pointset.RecordSet) (las.Vector3, las.Vector3, error) {
	var scale, offset las.Vector3
	if records.Len() == 0 {
		return scale, offset, errors.New(errors.ErrorTypeEmptyRecordSet,
			"cannot derive quantization from an empty record set")
	}
	for axis, name := range las.CoordinateColumns {
		values, err := records.Float64s(name)
		if err != nil {
			return scale, offset, errors.Wrap(err, errors.ErrorTypeUnsupportedColumn, "reading coordinate column")
		}
		lo, hi := floats.Min(values), floats.Max(values)
		if math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) {
			return scale, offset, errors.Newf(errors.ErrorTypeUnsupportedColumn,
				"column %q has non-finite values", name)
		}
		offset[axis] = math.Floor(lo)
		exp := defaultScaleExp
		for (hi-offset[axis])/math.Pow10(exp) > math.MaxInt32 {
			exp++
			if exp > maxScaleExp {
				return scale, offset, errors.Newf(errors.ErrorTypeUnsupportedColumn,
					"extent of column %q is too large to quantize", name)
			}
		}
		scale[axis] = math.Pow10(exp)
	}
	return scale, offset, nil
}
