package compute

import (
	"math"
	"strings"
	"testing"

	"qql-engine/internal/frame"
)

func uploadF32(t *testing.T, name string, vals []float32) (*Runtime, *Table) {
	t.Helper()
	df, err := frame.New(frame.NewF32(name, vals))
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	rt := NewRuntime()
	table, err := rt.Upload(df, nil)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return rt, table
}

func TestUploadSkipsUnsupportedColumns(t *testing.T) {
	df, _ := frame.New(
		frame.NewI64("timestamp", []int64{1, 2}),
		frame.NewF32("close", []float32{1, 2}),
		frame.NewStrOpt("entry", []string{"a", "b"}, nil),
		frame.NewF64("wide", []float64{1, 2}),
	)
	rt := NewRuntime()
	table, err := rt.Upload(df, nil)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !table.Has("close") {
		t.Error("f32 column should upload")
	}
	for _, name := range []string{"timestamp", "entry", "wide"} {
		if table.Has(name) {
			t.Errorf("column %q should be skipped", name)
		}
	}
	if table.RowCount() != 2 {
		t.Errorf("row count = %d, want 2", table.RowCount())
	}
}

func TestUploadNullSentinels(t *testing.T) {
	s := &frame.Series{Name: "x", DType: frame.F32, Float: []float64{1, 0, 3}, Valid: []bool{true, false, true}}
	df, _ := frame.New(s)
	rt := NewRuntime()
	table, _ := rt.Upload(df, nil)
	col, err := table.Get("x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !math.IsNaN(float64(col.Buf.F32s[1])) {
		t.Errorf("null f32 should upload as NaN, got %v", col.Buf.F32s[1])
	}
}

func TestDifferencePipeline(t *testing.T) {
	df, _ := frame.New(
		frame.NewF32("a", []float32{10, 12, 9}),
		frame.NewF32("b", []float32{1, 2, 3}),
	)
	rt := NewRuntime()
	table, _ := rt.Upload(df, nil)

	created, err := rt.RunPipeline(table, []KernelStep{{
		ShaderKey:          "difference_pair",
		Source:             DifferencePair,
		EntryPoint:         "main",
		Inputs:             []string{"a", "b"},
		Outputs:            []OutputSpec{ColumnOut("out", F32)},
		WorkgroupSize:      256,
		ElemsPerInvocation: 1,
	}})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(created) != 1 || created[0] != "out" {
		t.Errorf("created = %v", created)
	}
	if err := rt.DownloadAppend(df, table, "out"); err != nil {
		t.Fatalf("download: %v", err)
	}
	out, _ := df.Column("out")
	for i, want := range []float64{9, 10, 6} {
		if out.Float[i] != want {
			t.Errorf("out[%d] = %v, want %v", i, out.Float[i], want)
		}
	}
}

func TestGeneratorKernelFillsWholeColumn(t *testing.T) {
	rt, table := uploadF32(t, "close", make([]float32, 1000))
	_, err := rt.RunPipeline(table, []KernelStep{{
		ShaderKey:          "constant_fill",
		Source:             ConstantFill,
		EntryPoint:         "main",
		Outputs:            []OutputSpec{ColumnOut("c", F32)},
		WorkgroupSize:      256,
		ElemsPerInvocation: 1,
		Uniform:            UniformF32(2.5),
	}})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	col, _ := table.Get("c")
	if col.Len != 1000 {
		t.Fatalf("len = %d, want 1000", col.Len)
	}
	for i, v := range col.Buf.F32s {
		if v != 2.5 {
			t.Fatalf("c[%d] = %v, want 2.5", i, v)
		}
	}
}

func TestOutputLengthMismatchIsError(t *testing.T) {
	rt, table := uploadF32(t, "x", []float32{1, 2, 3})
	steps := []KernelStep{{
		ShaderKey:  "reduce_sum",
		Source:     ReduceSum,
		EntryPoint: "main",
		Inputs:     []string{"x"},
		Outputs:    []OutputSpec{ScalarOut("acc", F32)},
	}}
	if _, err := rt.RunPipeline(table, steps); err != nil {
		t.Fatalf("first pipeline: %v", err)
	}
	// Same output name now demanded at row length.
	steps[0].Outputs = []OutputSpec{ColumnOut("acc", F32)}
	_, err := rt.RunPipeline(table, steps)
	if err == nil {
		t.Fatal("expected length-mismatch error")
	}
	if !strings.Contains(err.Error(), "exists with len") {
		t.Errorf("error = %v", err)
	}
}

func TestCacheCollisionIsError(t *testing.T) {
	rt, table := uploadF32(t, "x", []float32{1, 2})
	step := KernelStep{
		ShaderKey:  "shared_key",
		Source:     DifferencePair,
		EntryPoint: "main",
		Inputs:     []string{"x", "x"},
		Outputs:    []OutputSpec{ColumnOut("o1", F32)},
	}
	if _, err := rt.RunPipeline(table, []KernelStep{step}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	step.Source = MulIndex // different program, same key
	step.Outputs = []OutputSpec{ColumnOut("o2", F32)}
	if _, err := rt.RunPipeline(table, []KernelStep{step}); err == nil {
		t.Fatal("expected cache collision error")
	}
}

func TestCachedKeyNeedsNoSource(t *testing.T) {
	rt, table := uploadF32(t, "x", []float32{1, 2})
	step := KernelStep{
		ShaderKey:  "difference_pair",
		Source:     DifferencePair,
		EntryPoint: "main",
		Inputs:     []string{"x", "x"},
		Outputs:    []OutputSpec{ColumnOut("o1", F32)},
	}
	if _, err := rt.RunPipeline(table, []KernelStep{step}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	step.Source = nil
	step.Outputs = []OutputSpec{ColumnOut("o2", F32)}
	if _, err := rt.RunPipeline(table, []KernelStep{step}); err != nil {
		t.Fatalf("cached run: %v", err)
	}

	missing := KernelStep{ShaderKey: "never_registered", EntryPoint: "main",
		Outputs: []OutputSpec{ColumnOut("o3", F32)}}
	if _, err := rt.RunPipeline(table, []KernelStep{missing}); err == nil {
		t.Fatal("expected missing-kernel error")
	}
}

func TestReduceSumAndScalarDownload(t *testing.T) {
	vals := make([]float32, 513) // spills past two full workgroups
	var want float64
	for i := range vals {
		vals[i] = float32(i % 7)
		want += float64(vals[i])
	}
	rt, table := uploadF32(t, "x", vals)
	_, err := rt.RunPipeline(table, []KernelStep{{
		ShaderKey:          "reduce_sum",
		Source:             ReduceSum,
		EntryPoint:         "main",
		Inputs:             []string{"x"},
		Outputs:            []OutputSpec{ScalarOut("sum", F32)},
		WorkgroupSize:      256,
		ElemsPerInvocation: 1,
	}})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got, err := rt.DownloadScalar(table, "sum")
	if err != nil {
		t.Fatalf("scalar: %v", err)
	}
	if math.Abs(float64(got)-want) > 1e-2 {
		t.Errorf("sum = %v, want %v", got, want)
	}

	if _, err := rt.DownloadScalar(table, "x"); err == nil {
		t.Error("scalar download of a row-shaped column should fail")
	}
}

func TestDownloadAppendRejectsScalars(t *testing.T) {
	df, _ := frame.New(frame.NewF32("x", []float32{1, 2, 3}))
	rt := NewRuntime()
	table, _ := rt.Upload(df, nil)
	_, err := rt.RunPipeline(table, []KernelStep{{
		ShaderKey:  "reduce_sum",
		Source:     ReduceSum,
		EntryPoint: "main",
		Inputs:     []string{"x"},
		Outputs:    []OutputSpec{ScalarOut("sum", F32)},
	}})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if err := rt.DownloadAppend(df, table, "sum"); err == nil {
		t.Fatal("appending a scalar onto row-indexed data must fail")
	}
}

func TestAxpbIndexBroadcast(t *testing.T) {
	rt := NewRuntime()
	table := NewTable(4)
	_, err := rt.RunPipeline(table, []KernelStep{{
		ShaderKey:          "axpb_index",
		Source:             AxpbIndex,
		EntryPoint:         "main",
		Outputs:            []OutputSpec{OutWithLen("fit", F32, 4)},
		WorkgroupSize:      256,
		ElemsPerInvocation: 1,
		Uniform:            UniformF32(1.0, 0.5),
	}})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	col, _ := table.Get("fit")
	for i, want := range []float32{1.0, 1.5, 2.0, 2.5} {
		if col.Buf.F32s[i] != want {
			t.Errorf("fit[%d] = %v, want %v", i, col.Buf.F32s[i], want)
		}
	}
}
