// Package frame is a small columnar table: named series with validity
// masks and the handful of operations the engine needs (select, stack,
// sort, fill, cast). It stands in for a full dataframe library.
package frame

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// DType is a series element type.
type DType int

const (
	F64 DType = iota
	F32 // stored as float64 rounded through float32 precision
	I64
	I32
	U32
	Str
)

func (d DType) String() string {
	switch d {
	case F64:
		return "f64"
	case F32:
		return "f32"
	case I64:
		return "i64"
	case I32:
		return "i32"
	case U32:
		return "u32"
	case Str:
		return "str"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Series is one named column. Floats backs the float dtypes, Ints the
// integer dtypes, Strs the string dtype. A nil Valid mask means every
// element is valid.
type Series struct {
	Name  string
	DType DType
	Float []float64
	Int   []int64
	Strs  []string
	Valid []bool
}

func NewF64(name string, vals []float64) *Series {
	return &Series{Name: name, DType: F64, Float: vals}
}

func NewF64Opt(name string, vals []float64, valid []bool) *Series {
	return &Series{Name: name, DType: F64, Float: vals, Valid: valid}
}

func NewF32(name string, vals []float32) *Series {
	f := make([]float64, len(vals))
	for i, v := range vals {
		f[i] = float64(v)
	}
	return &Series{Name: name, DType: F32, Float: f}
}

func NewI64(name string, vals []int64) *Series {
	return &Series{Name: name, DType: I64, Int: vals}
}

func NewStrOpt(name string, vals []string, valid []bool) *Series {
	return &Series{Name: name, DType: Str, Strs: vals, Valid: valid}
}

func (s *Series) Len() int {
	switch s.DType {
	case Str:
		return len(s.Strs)
	case I64, I32, U32:
		return len(s.Int)
	default:
		return len(s.Float)
	}
}

// IsValidAt reports whether element i is non-null.
func (s *Series) IsValidAt(i int) bool {
	return s.Valid == nil || s.Valid[i]
}

func (s *Series) Clone() *Series {
	out := &Series{Name: s.Name, DType: s.DType}
	if s.Float != nil {
		out.Float = append([]float64(nil), s.Float...)
	}
	if s.Int != nil {
		out.Int = append([]int64(nil), s.Int...)
	}
	if s.Strs != nil {
		out.Strs = append([]string(nil), s.Strs...)
	}
	if s.Valid != nil {
		out.Valid = append([]bool(nil), s.Valid...)
	}
	return out
}

// IsNumeric reports whether the series can be read as float64 values.
func (s *Series) IsNumeric() bool {
	return s.DType != Str
}

// AsF64Opt returns the series as float64 values with a validity slice.
func (s *Series) AsF64Opt() ([]float64, []bool, error) {
	n := s.Len()
	vals := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		valid[i] = s.IsValidAt(i)
	}
	switch s.DType {
	case F64, F32:
		copy(vals, s.Float)
	case I64, I32, U32:
		for i, v := range s.Int {
			vals[i] = float64(v)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported dtype for numeric read: %s (col %q)", s.DType, s.Name)
	}
	return vals, valid, nil
}

// CastF32 converts a numeric series to f32 precision in place. Values
// are rounded through float32 so later f64 reads match device output.
func (s *Series) CastF32() error {
	vals, valid, err := s.AsF64Opt()
	if err != nil {
		return err
	}
	for i, v := range vals {
		vals[i] = float64(float32(v))
	}
	s.DType = F32
	s.Float = vals
	s.Int = nil
	s.Valid = valid
	return nil
}

// CastF64 widens a numeric series to f64 in place.
func (s *Series) CastF64() error {
	vals, valid, err := s.AsF64Opt()
	if err != nil {
		return err
	}
	s.DType = F64
	s.Float = vals
	s.Int = nil
	s.Valid = valid
	return nil
}

// FillForward replaces each null with the nearest previous valid value.
func (s *Series) FillForward() {
	if s.Valid == nil || s.DType == Str {
		return
	}
	for i := 1; i < s.Len(); i++ {
		if !s.Valid[i] && s.Valid[i-1] {
			s.Valid[i] = true
			if s.Float != nil {
				s.Float[i] = s.Float[i-1]
			}
			if s.Int != nil {
				s.Int[i] = s.Int[i-1]
			}
		}
	}
}

// FillBackward replaces each null with the nearest following valid value.
func (s *Series) FillBackward() {
	if s.Valid == nil || s.DType == Str {
		return
	}
	for i := s.Len() - 2; i >= 0; i-- {
		if !s.Valid[i] && s.Valid[i+1] {
			s.Valid[i] = true
			if s.Float != nil {
				s.Float[i] = s.Float[i+1]
			}
			if s.Int != nil {
				s.Int[i] = s.Int[i+1]
			}
		}
	}
}

// DataFrame is an ordered set of equal-length series with unique names.
type DataFrame struct {
	cols   []*Series
	byName map[string]int
}

func New(series ...*Series) (*DataFrame, error) {
	df := &DataFrame{byName: make(map[string]int)}
	for _, s := range series {
		if err := df.HStack(s); err != nil {
			return nil, err
		}
	}
	return df, nil
}

func (df *DataFrame) Height() int {
	if len(df.cols) == 0 {
		return 0
	}
	return df.cols[0].Len()
}

func (df *DataFrame) Width() int { return len(df.cols) }

func (df *DataFrame) Names() []string {
	names := make([]string, len(df.cols))
	for i, s := range df.cols {
		names[i] = s.Name
	}
	return names
}

func (df *DataFrame) Has(name string) bool {
	_, ok := df.byName[name]
	return ok
}

func (df *DataFrame) Column(name string) (*Series, error) {
	i, ok := df.byName[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	return df.cols[i], nil
}

// HStack appends a new column. The name must be fresh and the length
// must match the frame height.
func (df *DataFrame) HStack(s *Series) error {
	if _, dup := df.byName[s.Name]; dup {
		return fmt.Errorf("column %q already exists", s.Name)
	}
	if len(df.cols) > 0 && s.Len() != df.Height() {
		return fmt.Errorf("column %q has length %d, frame height is %d", s.Name, s.Len(), df.Height())
	}
	df.byName[s.Name] = len(df.cols)
	df.cols = append(df.cols, s)
	return nil
}

// WithColumn replaces an existing column of the same name or appends.
func (df *DataFrame) WithColumn(s *Series) error {
	if i, ok := df.byName[s.Name]; ok {
		if len(df.cols) > 1 && s.Len() != df.Height() {
			return fmt.Errorf("column %q has length %d, frame height is %d", s.Name, s.Len(), df.Height())
		}
		df.cols[i] = s
		return nil
	}
	return df.HStack(s)
}

// Select returns a new frame holding clones of the named columns.
func (df *DataFrame) Select(names []string) (*DataFrame, error) {
	out := &DataFrame{byName: make(map[string]int)}
	for _, name := range names {
		s, err := df.Column(name)
		if err != nil {
			return nil, err
		}
		if err := out.HStack(s.Clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (df *DataFrame) Clone() *DataFrame {
	out := &DataFrame{byName: make(map[string]int, len(df.byName))}
	for _, s := range df.cols {
		out.byName[s.Name] = len(out.cols)
		out.cols = append(out.cols, s.Clone())
	}
	return out
}

// IsSortedBy reports whether the named i64 column is non-decreasing.
func (df *DataFrame) IsSortedBy(name string) bool {
	s, err := df.Column(name)
	if err != nil || s.Int == nil {
		return true
	}
	for i := 1; i < len(s.Int); i++ {
		if s.Int[i] < s.Int[i-1] {
			return false
		}
	}
	return true
}

// SortBy stably reorders every column by the named i64 column.
func (df *DataFrame) SortBy(name string) error {
	key, err := df.Column(name)
	if err != nil {
		return err
	}
	if key.Int == nil {
		return fmt.Errorf("sort key %q is not an integer column", name)
	}
	n := df.Height()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return key.Int[idx[a]] < key.Int[idx[b]] })
	for _, s := range df.cols {
		s.reorder(idx)
	}
	return nil
}

func (s *Series) reorder(idx []int) {
	if s.Float != nil {
		out := make([]float64, len(idx))
		for i, j := range idx {
			out[i] = s.Float[j]
		}
		s.Float = out
	}
	if s.Int != nil {
		out := make([]int64, len(idx))
		for i, j := range idx {
			out[i] = s.Int[j]
		}
		s.Int = out
	}
	if s.Strs != nil {
		out := make([]string, len(idx))
		for i, j := range idx {
			out[i] = s.Strs[j]
		}
		s.Strs = out
	}
	if s.Valid != nil {
		out := make([]bool, len(idx))
		for i, j := range idx {
			out[i] = s.Valid[j]
		}
		s.Valid = out
	}
}

// FilterRows keeps only rows where mask is true.
func (df *DataFrame) FilterRows(mask []bool) {
	var idx []int
	for i, keep := range mask {
		if keep {
			idx = append(idx, i)
		}
	}
	for _, s := range df.cols {
		s.reorder(idx)
	}
}

type jsonColumn struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Values []any  `json:"values"`
}

// MarshalJSON renders the frame column-wise; nulls and non-finite floats
// become JSON null.
func (df *DataFrame) MarshalJSON() ([]byte, error) {
	cols := make([]jsonColumn, 0, len(df.cols))
	for _, s := range df.cols {
		jc := jsonColumn{Name: s.Name, DType: s.DType.String(), Values: make([]any, s.Len())}
		for i := 0; i < s.Len(); i++ {
			if !s.IsValidAt(i) {
				continue
			}
			switch s.DType {
			case Str:
				jc.Values[i] = s.Strs[i]
			case I64, I32, U32:
				jc.Values[i] = s.Int[i]
			default:
				if v := s.Float[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
					jc.Values[i] = v
				}
			}
		}
		cols = append(cols, jc)
	}
	return json.Marshal(struct {
		Columns []jsonColumn `json:"columns"`
		Height  int          `json:"height"`
	}{cols, df.Height()})
}
