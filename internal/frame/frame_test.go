package frame

import (
	"math"
	"strings"
	"testing"
)

func TestHStackRejectsDuplicatesAndRaggedLengths(t *testing.T) {
	df, err := New(NewI64("timestamp", []int64{1, 2, 3}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := df.HStack(NewI64("timestamp", []int64{4, 5, 6})); err == nil {
		t.Error("expected duplicate-name error")
	}
	if err := df.HStack(NewF64("close", []float64{1.0})); err == nil {
		t.Error("expected length-mismatch error")
	}
}

func TestWithColumnReplaces(t *testing.T) {
	df, _ := New(NewF64("close", []float64{1, 2, 3}))
	if err := df.WithColumn(NewF64("close", []float64{4, 5, 6})); err != nil {
		t.Fatalf("replace: %v", err)
	}
	s, _ := df.Column("close")
	if s.Float[0] != 4 {
		t.Errorf("replace did not take: %v", s.Float)
	}
	if df.Width() != 1 {
		t.Errorf("width = %d, want 1", df.Width())
	}
}

func TestSortByReordersAllColumns(t *testing.T) {
	df, _ := New(
		NewI64("timestamp", []int64{3, 1, 2}),
		NewF64("close", []float64{30, 10, 20}),
	)
	if df.IsSortedBy("timestamp") {
		t.Fatal("frame should start unsorted")
	}
	if err := df.SortBy("timestamp"); err != nil {
		t.Fatalf("sort: %v", err)
	}
	ts, _ := df.Column("timestamp")
	cl, _ := df.Column("close")
	for i, want := range []int64{1, 2, 3} {
		if ts.Int[i] != want {
			t.Errorf("timestamp[%d] = %d, want %d", i, ts.Int[i], want)
		}
	}
	for i, want := range []float64{10, 20, 30} {
		if cl.Float[i] != want {
			t.Errorf("close[%d] = %v, want %v", i, cl.Float[i], want)
		}
	}
}

func TestFillForwardBackward(t *testing.T) {
	s := NewF64Opt("x", []float64{0, 1, 0, 3}, []bool{false, true, false, true})
	s.FillForward()
	if !s.Valid[2] || s.Float[2] != 1 {
		t.Errorf("forward fill: %v %v", s.Float, s.Valid)
	}
	if s.Valid[0] {
		t.Error("forward fill should leave a leading null")
	}
	s.FillBackward()
	if !s.Valid[0] || s.Float[0] != 1 {
		t.Errorf("backward fill: %v %v", s.Float, s.Valid)
	}
}

func TestCastF32RoundsPrecision(t *testing.T) {
	v := 0.1234567890123
	s := NewF64("x", []float64{v})
	if err := s.CastF32(); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if s.Float[0] != float64(float32(v)) {
		t.Errorf("cast value = %v, want f32-rounded %v", s.Float[0], float64(float32(v)))
	}
	if s.DType != F32 {
		t.Errorf("dtype = %v, want F32", s.DType)
	}
}

func TestAsF64OptFromInts(t *testing.T) {
	s := NewI64("ts", []int64{5, 6})
	vals, valid, err := s.AsF64Opt()
	if err != nil {
		t.Fatalf("as f64: %v", err)
	}
	if vals[1] != 6 || !valid[0] {
		t.Errorf("vals=%v valid=%v", vals, valid)
	}
}

func TestFilterRows(t *testing.T) {
	df, _ := New(
		NewI64("timestamp", []int64{1, 2, 3}),
		NewStrOpt("entry", []string{"a", "", "c"}, []bool{true, false, true}),
	)
	df.FilterRows([]bool{true, false, true})
	if df.Height() != 2 {
		t.Fatalf("height = %d, want 2", df.Height())
	}
	e, _ := df.Column("entry")
	if e.Strs[1] != "c" {
		t.Errorf("filtered strings = %v", e.Strs)
	}
}

func TestMarshalJSONNulls(t *testing.T) {
	df, _ := New(NewF64("x", []float64{1, math.NaN()}))
	b, err := df.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(b)
	if want := `"values":[1,null]`; !strings.Contains(got, want) {
		t.Errorf("json = %s, want it to contain %s", got, want)
	}
}
