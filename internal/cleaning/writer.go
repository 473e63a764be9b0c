package cleaning

import (
	"slices"

	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/las"
	"github.com/ajitpratap0/lasprep/pkg/pointset"
)

// WriteStats describes one completed write.
type WriteStats struct {
	Points  uint64
	Columns []string
	// DroppedColumns are record columns the destination format has no
	// dimension for.
	DroppedColumns []string
	Header         *las.Header
}

// WritableColumns splits the record columns into those the header's point
// format can store and those it cannot. Coordinates are always writable.
func WritableColumns(records *pointset.RecordSet, header *las.Header) (keep, dropped []string, err error) {
	format, err := las.FormatFor(header)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFormat, "resolving destination point format")
	}
	allowed := make(map[string]bool, len(format.Dimensions)+3)
	for _, name := range las.CoordinateColumns {
		allowed[name] = true
	}
	for _, name := range format.DimensionNames() {
		if name != las.DimX && name != las.DimY && name != las.DimZ {
			allowed[name] = true
		}
	}
	for _, name := range records.Names() {
		if allowed[name] {
			keep = append(keep, name)
		} else {
			dropped = append(dropped, name)
		}
	}
	return keep, dropped, nil
}

// Write serializes records to destination using header. Columns the point
// format cannot hold are dropped; dimensions with no column are zero. The
// destination is replaced atomically.
func Write(records *pointset.RecordSet, header *las.Header, destination string) (*WriteStats, error) {
	keep, dropped, err := WritableColumns(records, header)
	if err != nil {
		return nil, err
	}
	for _, c := range las.CoordinateColumns {
		if !slices.Contains(keep, c) {
			return nil, errors.Newf(errors.ErrorTypeUnsupportedColumn, "record set has no %q column", c)
		}
	}

	written, err := las.WriteFile(destination, header, records.Select(keep...))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFileProcessing, "writing point records").
			WithDetail("path", destination)
	}
	return &WriteStats{
		Points:         written.PointCount,
		Columns:        keep,
		DroppedColumns: dropped,
		Header:         written,
	}, nil
}
