package pointset

import (
	"fmt"
	"slices"
)

// RecordSet is an ordered table of point records stored column by column.
//
// A RecordSet is owned by a single worker and is not safe for concurrent
// mutation.
type RecordSet struct {
	columns []Column
	index   map[string]int
	rows    int
}

// New creates an empty record set.
func New() *RecordSet {
	return &RecordSet{index: make(map[string]int)}
}

// FromColumns builds a record set from columns of equal length.
func FromColumns(cols ...Column) (*RecordSet, error) {
	s := New()
	for _, c := range cols {
		if err := s.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddColumn appends a column. The first column fixes the row count; later
// columns must match it.
func (s *RecordSet) AddColumn(c Column) error {
	if _, exists := s.index[c.Name()]; exists {
		return fmt.Errorf("column %q already exists", c.Name())
	}
	if len(s.columns) > 0 && c.Len() != s.rows {
		return fmt.Errorf("column %q has %d rows, record set has %d", c.Name(), c.Len(), s.rows)
	}
	s.index[c.Name()] = len(s.columns)
	s.columns = append(s.columns, c)
	s.rows = c.Len()
	return nil
}

// Column retrieves a column by name
func (s *RecordSet) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.columns[i], true
}

// Float64s returns the values of a float column.
func (s *RecordSet) Float64s(name string) ([]float64, error) {
	c, ok := s.Column(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	fc, ok := c.(*FloatColumn)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, not float", name, c.Type())
	}
	return fc.Values(), nil
}

// Has reports whether the set has a column with the given name.
func (s *RecordSet) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Len returns the number of rows
func (s *RecordSet) Len() int { return s.rows }

// ColumnCount returns the number of columns
func (s *RecordSet) ColumnCount() int { return len(s.columns) }

// Names returns column names in insertion order.
func (s *RecordSet) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name()
	}
	return names
}

// Columns returns the columns in insertion order.
func (s *RecordSet) Columns() []Column {
	return slices.Clone(s.columns)
}

// HasNulls reports whether any row has a missing value in any column.
func (s *RecordSet) HasNulls() bool {
	for i := 0; i < s.rows; i++ {
		if s.rowHasNull(i) {
			return true
		}
	}
	return false
}

func (s *RecordSet) rowHasNull(i int) bool {
	for _, c := range s.columns {
		if c.IsNull(i) {
			return true
		}
	}
	return false
}

// DropNulls removes every row with a missing value in any column and returns
// the number of rows removed.
func (s *RecordSet) DropNulls() int {
	keep := make([]int, 0, s.rows)
	for i := 0; i < s.rows; i++ {
		if !s.rowHasNull(i) {
			keep = append(keep, i)
		}
	}
	dropped := s.rows - len(keep)
	if dropped > 0 {
		s.take(keep)
	}
	return dropped
}

// SortBy reorders rows ascending by the given keys, each later key breaking
// ties of the earlier ones. The sort is stable, so the result is
// deterministic and sorting a sorted set leaves it unchanged.
func (s *RecordSet) SortBy(keys ...string) error {
	cols, err := s.keyColumns(keys)
	if err != nil {
		return err
	}
	perm := make([]int, s.rows)
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(a, b int) int {
		for _, c := range cols {
			if r := c.Compare(a, b); r != 0 {
				return r
			}
		}
		return 0
	})
	if !isIdentity(perm) {
		s.take(perm)
	}
	return nil
}

// IsSortedBy reports whether rows are in non-decreasing order under keys.
func (s *RecordSet) IsSortedBy(keys ...string) (bool, error) {
	cols, err := s.keyColumns(keys)
	if err != nil {
		return false, err
	}
	for i := 1; i < s.rows; i++ {
		for _, c := range cols {
			r := c.Compare(i-1, i)
			if r < 0 {
				break
			}
			if r > 0 {
				return false, nil
			}
		}
	}
	return true, nil
}

func (s *RecordSet) keyColumns(keys []string) ([]Column, error) {
	cols := make([]Column, 0, len(keys))
	for _, k := range keys {
		c, ok := s.Column(k)
		if !ok {
			return nil, fmt.Errorf("sort key %q not found", k)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// Select returns a new set holding only the named columns, in the given
// order. Unknown names are skipped.
func (s *RecordSet) Select(names ...string) *RecordSet {
	out := New()
	for _, n := range names {
		if c, ok := s.Column(n); ok {
			_ = out.AddColumn(c)
		}
	}
	return out
}

func (s *RecordSet) take(idx []int) {
	for i, c := range s.columns {
		s.columns[i] = c.Take(idx)
	}
	s.rows = len(idx)
}

// MemoryUsage returns total memory usage in bytes
func (s *RecordSet) MemoryUsage() int64 {
	var total int64
	for _, c := range s.columns {
		total += int64(len(c.Name()))
		total += c.MemoryUsage()
	}
	return total
}

func isIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}
