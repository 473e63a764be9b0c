// Package cleaning removes invalid point records from LAS files and rewrites
// them with a canonical, precision-preserving header.
//
// A file goes through three steps: Load reads the records into a column
// table and drops incomplete rows, Reconcile derives the output header, and
// Write serializes the table. Cleaner chains the steps for one file and
// turns every failure into a Result instead of an error.
package cleaning

import (
	"fmt"

	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/las"
	"github.com/ajitpratap0/lasprep/pkg/pointset"
)

// Mode selects which columns are loaded.
type Mode string

const (
	// ModeFeatures loads the fixed set of feature columns.
	ModeFeatures Mode = "features"
	// ModeAll loads x, y, z and every other dimension of the point format.
	ModeAll Mode = "all"
)

// FeatureColumns are the columns loaded in ModeFeatures.
var FeatureColumns = []string{
	las.ColumnX, las.ColumnY, las.ColumnZ,
	"intensity", "return_number", "number_of_returns", "classification", "withheld",
}

// SortKeys is the lexicographic sort order applied when sorting is requested.
var SortKeys = []string{
	las.ColumnX, las.ColumnY, las.ColumnZ,
	"intensity", "return_number", "number_of_returns",
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFeatures, ModeAll:
		return Mode(s), nil
	default:
		return "", errors.Newf(errors.ErrorTypeInvalidMode, "invalid mode %q: want %q or %q", s, ModeFeatures, ModeAll)
	}
}

// Loaded is the outcome of loading one file.
type Loaded struct {
	Records *pointset.RecordSet
	Header  *las.Header
	// Read is the number of records in the file, Dropped the number
	// removed for missing values.
	Read    int
	Dropped int
}

// Load reads path into a record set. Rows with a missing value in any loaded
// column are dropped; with sort the rows are ordered by SortKeys.
func Load(path string, sort bool, mode Mode) (*pointset.RecordSet, error) {
	l, err := LoadFile(path, sort, mode)
	if err != nil {
		return nil, err
	}
	return l.Records, nil
}

// LoadFile is Load, also returning the source header and row counts.
func LoadFile(path string, sort bool, mode Mode) (*Loaded, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	r, err := las.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	columns := FeatureColumns
	if mode == ModeAll {
		columns = r.Columns()
	}
	records, err := r.ReadColumns(columns)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFileProcessing, "loading point records").WithDetail("path", path)
	}

	l := &Loaded{Records: records, Header: r.Header(), Read: records.Len()}
	l.Dropped = records.DropNulls()

	if sort {
		if err := records.SortBy(SortKeys...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFileProcessing, "sorting point records")
		}
	}
	return l, nil
}

func (l *Loaded) String() string {
	return fmt.Sprintf("%d records read, %d dropped", l.Read, l.Dropped)
}
