// Package pointset provides the in-memory columnar table that holds point
// records between loading and writing.
package pointset

import (
	"cmp"
	"math"
)

// ColumnType represents the data type of a column
type ColumnType int

const (
	ColumnTypeFloat ColumnType = iota
	ColumnTypeInt
	ColumnTypeUint
	ColumnTypeBool
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeFloat:
		return "float"
	case ColumnTypeInt:
		return "int"
	case ColumnTypeUint:
		return "uint"
	case ColumnTypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Column is the base interface for all column types.
//
// The As* accessors expose every column through the three numeric views the
// LAS writer needs. AsInt and AsUint report ok=false when the stored value is
// not exactly representable (fractional, negative for AsUint, out of range).
type Column interface {
	Name() string
	Type() ColumnType
	Len() int
	IsNull(i int) bool
	AppendNull()
	Compare(i, j int) int
	Take(idx []int) Column
	AsFloat(i int) float64
	AsInt(i int) (int64, bool)
	AsUint(i int) (uint64, bool)
	MemoryUsage() int64
}

// nullMask tracks missing values. It stays nil until the first null so
// complete columns carry no overhead.
type nullMask struct {
	nulls []bool
}

func (m *nullMask) isNull(i int) bool {
	return m.nulls != nil && m.nulls[i]
}

func (m *nullMask) grow(n int, null bool) {
	if m.nulls == nil {
		if !null {
			return
		}
		m.nulls = make([]bool, n, n+1)
	}
	m.nulls = append(m.nulls, null)
}

func (m *nullMask) take(idx []int) nullMask {
	if m.nulls == nil {
		return nullMask{}
	}
	out := make([]bool, len(idx))
	for k, i := range idx {
		out[k] = m.nulls[i]
	}
	return nullMask{nulls: out}
}

// FloatColumn stores floating point values. NaN counts as missing.
type FloatColumn struct {
	name   string
	values []float64
	mask   nullMask
}

// NewFloatColumn creates a new float column
func NewFloatColumn(name string, capacity int) *FloatColumn {
	return &FloatColumn{name: name, values: make([]float64, 0, capacity)}
}

// FloatColumnOf creates a float column holding values.
func FloatColumnOf(name string, values ...float64) *FloatColumn {
	return &FloatColumn{name: name, values: values}
}

func (c *FloatColumn) Name() string     { return c.name }
func (c *FloatColumn) Type() ColumnType { return ColumnTypeFloat }
func (c *FloatColumn) Len() int         { return len(c.values) }

func (c *FloatColumn) IsNull(i int) bool {
	return c.mask.isNull(i) || math.IsNaN(c.values[i])
}

// Append adds a value.
func (c *FloatColumn) Append(v float64) {
	c.mask.grow(len(c.values), false)
	c.values = append(c.values, v)
}

func (c *FloatColumn) AppendNull() {
	c.mask.grow(len(c.values), true)
	c.values = append(c.values, math.NaN())
}

// Value returns the i-th value.
func (c *FloatColumn) Value(i int) float64 { return c.values[i] }

// Values returns the backing slice. Callers must not modify it.
func (c *FloatColumn) Values() []float64 { return c.values }

func (c *FloatColumn) Compare(i, j int) int { return cmp.Compare(c.values[i], c.values[j]) }

func (c *FloatColumn) Take(idx []int) Column {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = c.values[i]
	}
	return &FloatColumn{name: c.name, values: out, mask: c.mask.take(idx)}
}

func (c *FloatColumn) AsFloat(i int) float64 { return c.values[i] }

func (c *FloatColumn) AsInt(i int) (int64, bool) {
	v := c.values[i]
	if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
		return 0, false
	}
	return int64(v), true
}

func (c *FloatColumn) AsUint(i int) (uint64, bool) {
	v := c.values[i]
	if v != math.Trunc(v) || v < 0 || v >= math.MaxUint64 {
		return 0, false
	}
	return uint64(v), true
}

func (c *FloatColumn) MemoryUsage() int64 {
	return int64(len(c.values)*8 + len(c.mask.nulls))
}

// IntColumn stores signed integer values
type IntColumn struct {
	name   string
	values []int64
	mask   nullMask
}

// NewIntColumn creates a new integer column
func NewIntColumn(name string, capacity int) *IntColumn {
	return &IntColumn{name: name, values: make([]int64, 0, capacity)}
}

// IntColumnOf creates an integer column holding values.
func IntColumnOf(name string, values ...int64) *IntColumn {
	return &IntColumn{name: name, values: values}
}

func (c *IntColumn) Name() string      { return c.name }
func (c *IntColumn) Type() ColumnType  { return ColumnTypeInt }
func (c *IntColumn) Len() int          { return len(c.values) }
func (c *IntColumn) IsNull(i int) bool { return c.mask.isNull(i) }

// Append adds a value.
func (c *IntColumn) Append(v int64) {
	c.mask.grow(len(c.values), false)
	c.values = append(c.values, v)
}

func (c *IntColumn) AppendNull() {
	c.mask.grow(len(c.values), true)
	c.values = append(c.values, 0)
}

// Value returns the i-th value.
func (c *IntColumn) Value(i int) int64 { return c.values[i] }

func (c *IntColumn) Compare(i, j int) int { return cmp.Compare(c.values[i], c.values[j]) }

func (c *IntColumn) Take(idx []int) Column {
	out := make([]int64, len(idx))
	for k, i := range idx {
		out[k] = c.values[i]
	}
	return &IntColumn{name: c.name, values: out, mask: c.mask.take(idx)}
}

func (c *IntColumn) AsFloat(i int) float64     { return float64(c.values[i]) }
func (c *IntColumn) AsInt(i int) (int64, bool) { return c.values[i], true }

func (c *IntColumn) AsUint(i int) (uint64, bool) {
	if c.values[i] < 0 {
		return 0, false
	}
	return uint64(c.values[i]), true
}

func (c *IntColumn) MemoryUsage() int64 {
	return int64(len(c.values)*8 + len(c.mask.nulls))
}

// UintColumn stores unsigned integer values
type UintColumn struct {
	name   string
	values []uint64
	mask   nullMask
}

// NewUintColumn creates a new unsigned integer column
func NewUintColumn(name string, capacity int) *UintColumn {
	return &UintColumn{name: name, values: make([]uint64, 0, capacity)}
}

// UintColumnOf creates an unsigned column holding values.
func UintColumnOf(name string, values ...uint64) *UintColumn {
	return &UintColumn{name: name, values: values}
}

func (c *UintColumn) Name() string      { return c.name }
func (c *UintColumn) Type() ColumnType  { return ColumnTypeUint }
func (c *UintColumn) Len() int          { return len(c.values) }
func (c *UintColumn) IsNull(i int) bool { return c.mask.isNull(i) }

// Append adds a value.
func (c *UintColumn) Append(v uint64) {
	c.mask.grow(len(c.values), false)
	c.values = append(c.values, v)
}

func (c *UintColumn) AppendNull() {
	c.mask.grow(len(c.values), true)
	c.values = append(c.values, 0)
}

// Value returns the i-th value.
func (c *UintColumn) Value(i int) uint64 { return c.values[i] }

func (c *UintColumn) Compare(i, j int) int { return cmp.Compare(c.values[i], c.values[j]) }

func (c *UintColumn) Take(idx []int) Column {
	out := make([]uint64, len(idx))
	for k, i := range idx {
		out[k] = c.values[i]
	}
	return &UintColumn{name: c.name, values: out, mask: c.mask.take(idx)}
}

func (c *UintColumn) AsFloat(i int) float64 { return float64(c.values[i]) }

func (c *UintColumn) AsInt(i int) (int64, bool) {
	if c.values[i] > math.MaxInt64 {
		return 0, false
	}
	return int64(c.values[i]), true
}

func (c *UintColumn) AsUint(i int) (uint64, bool) { return c.values[i], true }

func (c *UintColumn) MemoryUsage() int64 {
	return int64(len(c.values)*8 + len(c.mask.nulls))
}

// BoolColumn stores boolean values
type BoolColumn struct {
	name   string
	values []bool
	mask   nullMask
}

// NewBoolColumn creates a new boolean column
func NewBoolColumn(name string, capacity int) *BoolColumn {
	return &BoolColumn{name: name, values: make([]bool, 0, capacity)}
}

// BoolColumnOf creates a boolean column holding values.
func BoolColumnOf(name string, values ...bool) *BoolColumn {
	return &BoolColumn{name: name, values: values}
}

func (c *BoolColumn) Name() string      { return c.name }
func (c *BoolColumn) Type() ColumnType  { return ColumnTypeBool }
func (c *BoolColumn) Len() int          { return len(c.values) }
func (c *BoolColumn) IsNull(i int) bool { return c.mask.isNull(i) }

// Append adds a value.
func (c *BoolColumn) Append(v bool) {
	c.mask.grow(len(c.values), false)
	c.values = append(c.values, v)
}

func (c *BoolColumn) AppendNull() {
	c.mask.grow(len(c.values), true)
	c.values = append(c.values, false)
}

// Value returns the i-th value.
func (c *BoolColumn) Value(i int) bool { return c.values[i] }

func (c *BoolColumn) Compare(i, j int) int {
	a, b := c.values[i], c.values[j]
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func (c *BoolColumn) Take(idx []int) Column {
	out := make([]bool, len(idx))
	for k, i := range idx {
		out[k] = c.values[i]
	}
	return &BoolColumn{name: c.name, values: out, mask: c.mask.take(idx)}
}

func (c *BoolColumn) AsFloat(i int) float64 {
	if c.values[i] {
		return 1
	}
	return 0
}

func (c *BoolColumn) AsInt(i int) (int64, bool) {
	if c.values[i] {
		return 1, true
	}
	return 0, true
}

func (c *BoolColumn) AsUint(i int) (uint64, bool) {
	if c.values[i] {
		return 1, true
	}
	return 0, true
}

func (c *BoolColumn) MemoryUsage() int64 {
	return int64(len(c.values) + len(c.mask.nulls))
}
