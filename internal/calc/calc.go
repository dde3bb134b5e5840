// Package calc turns CALC directives into kernel pipelines. Each
// operation maps to one or more dispatch steps against the compute
// runtime; inputs are sanitized first so device buffers never see nulls
// or non-finite values.
package calc

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"qql-engine/internal/compute"
	"qql-engine/internal/frame"
	"qql-engine/internal/lexer"
	"qql-engine/internal/logger"
	"qql-engine/internal/parser"
)

const (
	defaultPeriod      = 14
	defaultWorkgroup   = 256
	elemsPerInvocation = 1
)

// Options tune how calcs dispatch. Zero values fall back to the
// package defaults.
type Options struct {
	DefaultPeriod      int
	WorkgroupSize      int
	ElemsPerInvocation int
}

// Dispatcher evaluates action sections against a compute runtime with
// fixed dispatch parameters.
type Dispatcher struct {
	rt        *compute.Runtime
	period    uint32
	workgroup uint32
	elems     uint32
}

func NewDispatcher(rt *compute.Runtime, opts Options) *Dispatcher {
	d := &Dispatcher{rt: rt, period: defaultPeriod, workgroup: defaultWorkgroup, elems: elemsPerInvocation}
	if opts.DefaultPeriod > 0 {
		d.period = uint32(opts.DefaultPeriod)
	}
	if opts.WorkgroupSize > 0 {
		d.workgroup = uint32(opts.WorkgroupSize)
	}
	if opts.ElemsPerInvocation > 0 {
		d.elems = uint32(opts.ElemsPerInvocation)
	}
	return d
}

// ActionOverData evaluates an action section with default dispatch
// parameters. df itself is not modified.
func ActionOverData(ctx context.Context, action *parser.ActionSection, df *frame.DataFrame, rt *compute.Runtime) (*frame.DataFrame, error) {
	return NewDispatcher(rt, Options{}).ActionOverData(ctx, action, df)
}

// ActionOverData evaluates an action section against pulled data. The
// returned frame holds timestamp, the pulled fields, and one column per
// calc output, all cast to f64.
func (d *Dispatcher) ActionOverData(ctx context.Context, action *parser.ActionSection, df *frame.DataFrame) (*frame.DataFrame, error) {
	ctx, span := logger.StartSpan(ctx, "calc.action_over_data")
	defer span.End()

	names := append([]string{"timestamp"}, action.Fields...)
	out, err := df.Select(names)
	if err != nil {
		return nil, fmt.Errorf("selecting pulled fields: %w", err)
	}
	working := out.Clone()
	if err := Sanitize(working, action.Fields); err != nil {
		return nil, err
	}

	for _, c := range action.Calcs {
		logger.Debug(ctx, "dispatching calc",
			"operation", c.Operation.String(), "alias", c.Alias, "inputs", c.Inputs)
		if err := d.runCalc(c, out, working); err != nil {
			return nil, fmt.Errorf("calc %q: %w", c.Alias, err)
		}
	}

	for _, name := range out.Names() {
		if name == "timestamp" {
			continue
		}
		s, err := out.Column(name)
		if err != nil {
			return nil, err
		}
		if err := s.CastF64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *Dispatcher) runCalc(c parser.Calc, out, working *frame.DataFrame) error {
	for _, in := range c.Inputs {
		if working.Has(in) {
			if err := Sanitize(working, []string{in}); err != nil {
				return err
			}
		}
	}

	if c.Operation == lexer.KwLinearRegression {
		return d.runLinearRegression(c, out, working)
	}

	steps, downloads, err := d.stepsFor(c, working)
	if err != nil {
		return err
	}

	table, err := d.uploadWorking(working)
	if err != nil {
		return err
	}
	if _, err := d.rt.RunPipeline(table, steps); err != nil {
		return err
	}
	return d.downloadInto(out, working, table, downloads)
}

// uploadWorking transfers every non-timestamp working column. Columns a
// prior calc widened to f64 only travel when a later calc sanitizes
// them back to f32.
func (d *Dispatcher) uploadWorking(working *frame.DataFrame) (*compute.Table, error) {
	var names []string
	for _, name := range working.Names() {
		if name != "timestamp" {
			names = append(names, name)
		}
	}
	return d.rt.Upload(working, names)
}

func (d *Dispatcher) downloadInto(out, working *frame.DataFrame, table *compute.Table, names []string) error {
	for _, name := range names {
		if err := d.rt.DownloadAppend(working, table, name); err != nil {
			return err
		}
		s, err := working.Column(name)
		if err != nil {
			return err
		}
		if err := s.CastF64(); err != nil {
			return err
		}
		if err := out.HStack(s.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) stepsFor(c parser.Calc, working *frame.DataFrame) ([]compute.KernelStep, []string, error) {
	switch c.Operation {
	case lexer.KwDifference:
		return d.differenceSteps(c, working)
	case lexer.KwSma:
		return d.smaSteps(c, working)
	case lexer.KwVolatility:
		return d.volatilitySteps(c, working, 0.5)
	case lexer.KwDoubleVolatility:
		return d.volatilitySteps(c, working, 1.0)
	case lexer.KwConstant:
		return d.constantSteps(c)
	case lexer.KwSum, lexer.KwMultiply, lexer.KwDivide:
		return nil, nil, fmt.Errorf("operation %s is not implemented", c.Operation)
	}
	return nil, nil, fmt.Errorf("unknown operation %s", c.Operation)
}

// differenceSteps emits one subtraction per consecutive input pair. A
// two-input calc names its output after the alias directly; wider calcs
// number each pair.
func (d *Dispatcher) differenceSteps(c parser.Calc, working *frame.DataFrame) ([]compute.KernelStep, []string, error) {
	if len(c.Inputs) < 2 {
		return nil, nil, fmt.Errorf("DIFFERENCE needs at least two inputs, got %d", len(c.Inputs))
	}
	for _, in := range c.Inputs {
		if !working.Has(in) {
			return nil, nil, fmt.Errorf("unknown column %q", in)
		}
	}
	var steps []compute.KernelStep
	var downloads []string
	for j := 0; j+1 < len(c.Inputs); j++ {
		name := c.Alias
		if len(c.Inputs) > 2 {
			name = fmt.Sprintf("%s_%d", c.Alias, j)
		}
		steps = append(steps, compute.KernelStep{
			ShaderKey:          "difference_pair",
			Source:             compute.DifferencePair,
			EntryPoint:         "main",
			Inputs:             []string{c.Inputs[j], c.Inputs[j+1]},
			Outputs:            []compute.OutputSpec{compute.ColumnOut(name, compute.F32)},
			WorkgroupSize:      d.workgroup,
			ElemsPerInvocation: d.elems,
		})
		downloads = append(downloads, name)
	}
	return steps, downloads, nil
}

func (d *Dispatcher) smaSteps(c parser.Calc, working *frame.DataFrame) ([]compute.KernelStep, []string, error) {
	if len(c.Inputs) < 1 {
		return nil, nil, fmt.Errorf("SMA needs an input column")
	}
	if !working.Has(c.Inputs[0]) {
		return nil, nil, fmt.Errorf("unknown column %q", c.Inputs[0])
	}
	period, err := d.optionalPeriod(c.Inputs, 1)
	if err != nil {
		return nil, nil, err
	}
	step := compute.KernelStep{
		ShaderKey:          "sma_centered",
		Source:             compute.SmaCentered,
		EntryPoint:         "main",
		Inputs:             []string{c.Inputs[0]},
		Outputs:            []compute.OutputSpec{compute.ColumnOut(c.Alias, compute.F32)},
		WorkgroupSize:      d.workgroup,
		ElemsPerInvocation: d.elems,
		Uniform:            compute.UniformU32(period),
	}
	return []compute.KernelStep{step}, []string{c.Alias}, nil
}

// volatilitySteps computes the rolling volatility, then projects it into
// upper and lower price bands at the given scale.
func (d *Dispatcher) volatilitySteps(c parser.Calc, working *frame.DataFrame, scale float32) ([]compute.KernelStep, []string, error) {
	if len(c.Inputs) < 1 {
		return nil, nil, fmt.Errorf("%s needs a price column", c.Operation)
	}
	price := c.Inputs[0]
	if !working.Has(price) {
		return nil, nil, fmt.Errorf("unknown column %q", price)
	}
	period, err := d.optionalPeriod(c.Inputs, 1)
	if err != nil {
		return nil, nil, err
	}
	pos := c.Alias + "_pos"
	neg := c.Alias + "_neg"
	steps := []compute.KernelStep{
		{
			ShaderKey:          "volatility_vol_only",
			Source:             compute.VolatilityVolOnly,
			EntryPoint:         "main",
			Inputs:             []string{price},
			Outputs:            []compute.OutputSpec{compute.ColumnOut(c.Alias, compute.F32)},
			WorkgroupSize:      d.workgroup,
			ElemsPerInvocation: d.elems,
			Uniform:            compute.UniformU32(period, 1),
		},
		{
			ShaderKey:          "band_from_vol",
			Source:             compute.BandFromVol,
			EntryPoint:         "main",
			Inputs:             []string{price, c.Alias},
			Outputs:            []compute.OutputSpec{compute.ColumnOut(pos, compute.F32)},
			WorkgroupSize:      d.workgroup,
			ElemsPerInvocation: d.elems,
			Uniform:            compute.UniformF32(scale),
		},
		{
			ShaderKey:          "band_from_vol",
			Source:             compute.BandFromVol,
			EntryPoint:         "main",
			Inputs:             []string{price, c.Alias},
			Outputs:            []compute.OutputSpec{compute.ColumnOut(neg, compute.F32)},
			WorkgroupSize:      d.workgroup,
			ElemsPerInvocation: d.elems,
			Uniform:            compute.UniformF32(-scale),
		},
	}
	return steps, []string{c.Alias, pos, neg}, nil
}

func (d *Dispatcher) constantSteps(c parser.Calc) ([]compute.KernelStep, []string, error) {
	if len(c.Inputs) != 1 {
		return nil, nil, fmt.Errorf("CONSTANT needs exactly one numeric input, got %d", len(c.Inputs))
	}
	v, err := parseNumber(c.Inputs[0])
	if err != nil {
		return nil, nil, fmt.Errorf("CONSTANT value: %w", err)
	}
	step := compute.KernelStep{
		ShaderKey:          "constant_fill",
		Source:             compute.ConstantFill,
		EntryPoint:         "main",
		Outputs:            []compute.OutputSpec{compute.ColumnOut(c.Alias, compute.F32)},
		WorkgroupSize:      d.workgroup,
		ElemsPerInvocation: d.elems,
		Uniform:            compute.UniformF32(float32(v)),
	}
	return []compute.KernelStep{step}, []string{c.Alias}, nil
}

// runLinearRegression fits y = a + b*i over the row index. The sums feed
// through reduction kernels; the closed-form slope and intercept come
// back as scalars and a generator kernel writes the fitted line.
func (d *Dispatcher) runLinearRegression(c parser.Calc, out, working *frame.DataFrame) error {
	if len(c.Inputs) < 1 {
		return fmt.Errorf("LINEAR_REGRESSION needs an input column")
	}
	src := c.Inputs[0]
	if !working.Has(src) {
		return fmt.Errorf("unknown column %q", src)
	}

	table, err := d.uploadWorking(working)
	if err != nil {
		return err
	}
	n := float64(table.RowCount())
	if table.RowCount() < 2 {
		return flatFit(c.Alias, src, out, working)
	}

	crossCol := c.Alias + "_cross"
	_, err = d.rt.RunPipeline(table, []compute.KernelStep{
		{
			ShaderKey:          "mul_index",
			Source:             compute.MulIndex,
			EntryPoint:         "main",
			Inputs:             []string{src},
			Outputs:            []compute.OutputSpec{compute.ColumnOut(crossCol, compute.F32)},
			WorkgroupSize:      d.workgroup,
			ElemsPerInvocation: d.elems,
		},
		{
			ShaderKey:          "reduce_sum",
			Source:             compute.ReduceSum,
			EntryPoint:         "main",
			Inputs:             []string{src},
			Outputs:            []compute.OutputSpec{compute.ScalarOut(c.Alias+"_sum_y", compute.F32)},
			WorkgroupSize:      d.workgroup,
			ElemsPerInvocation: d.elems,
		},
		{
			ShaderKey:          "reduce_sum",
			Source:             compute.ReduceSum,
			EntryPoint:         "main",
			Inputs:             []string{crossCol},
			Outputs:            []compute.OutputSpec{compute.ScalarOut(c.Alias+"_sum_xy", compute.F32)},
			WorkgroupSize:      d.workgroup,
			ElemsPerInvocation: d.elems,
		},
	})
	if err != nil {
		return err
	}
	sumY, err := d.rt.DownloadScalar(table, c.Alias+"_sum_y")
	if err != nil {
		return err
	}
	sumXY, err := d.rt.DownloadScalar(table, c.Alias+"_sum_xy")
	if err != nil {
		return err
	}

	// The index sums have exact closed forms.
	sumX := n * (n - 1) / 2
	sumXX := n * (n - 1) * (2*n - 1) / 6
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return flatFit(c.Alias, src, out, working)
	}
	slope := (n*float64(sumXY) - sumX*float64(sumY)) / denom
	intercept := (float64(sumY) - slope*sumX) / n

	_, err = d.rt.RunPipeline(table, []compute.KernelStep{{
		ShaderKey:          "axpb_index",
		Source:             compute.AxpbIndex,
		EntryPoint:         "main",
		Outputs:            []compute.OutputSpec{compute.OutWithLen(c.Alias, compute.F32, table.RowCount())},
		WorkgroupSize:      d.workgroup,
		ElemsPerInvocation: d.elems,
		Uniform:            compute.UniformF32(float32(intercept), float32(slope)),
	}})
	if err != nil {
		return err
	}
	return d.downloadInto(out, working, table, []string{c.Alias})
}

// flatFit emits a constant fit at the source's first value, covering the
// degenerate cases where the normal equations have no solution.
func flatFit(alias, src string, out, working *frame.DataFrame) error {
	var level float64
	if s, err := working.Column(src); err == nil && s.Len() > 0 && s.Float != nil {
		level = s.Float[0]
	}
	vals := make([]float64, working.Height())
	for i := range vals {
		vals[i] = level
	}
	s := frame.NewF64(alias, vals)
	if err := working.WithColumn(s); err != nil {
		return err
	}
	return out.HStack(s.Clone())
}

func (d *Dispatcher) optionalPeriod(inputs []string, idx int) (uint32, error) {
	if len(inputs) <= idx {
		return d.period, nil
	}
	v, err := parseNumber(inputs[idx])
	if err != nil {
		return 0, fmt.Errorf("period: %w", err)
	}
	if v < 1 {
		return 0, fmt.Errorf("period must be at least 1, got %v", v)
	}
	return uint32(v), nil
}

func parseNumber(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.Trim(raw, `"`), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	return v, nil
}

// Sanitize prepares the named columns for device upload: the frame is
// sorted by timestamp if needed, each column is cast to f32 precision,
// nulls are filled from neighbors, and any remaining non-finite values
// are repaired. Running it twice is a no-op.
func Sanitize(df *frame.DataFrame, columns []string) error {
	if df.Has("timestamp") && !df.IsSortedBy("timestamp") {
		if err := df.SortBy("timestamp"); err != nil {
			return err
		}
	}
	for _, name := range columns {
		s, err := df.Column(name)
		if err != nil {
			return err
		}
		if !s.IsNumeric() {
			return fmt.Errorf("column %q is not numeric", name)
		}
		if err := s.CastF32(); err != nil {
			return err
		}
		s.FillForward()
		s.FillBackward()
		repairNonFinite(s)
	}
	return nil
}

// repairNonFinite replaces NaN and infinite values with the nearest
// finite neighbor, preferring earlier rows, falling back to zero.
func repairNonFinite(s *frame.Series) {
	vals := s.Float
	finite := func(i int) bool {
		return s.IsValidAt(i) && !math.IsNaN(vals[i]) && !math.IsInf(vals[i], 0)
	}
	for i := range vals {
		if finite(i) {
			continue
		}
		repaired := false
		for j := i - 1; j >= 0; j-- {
			if finite(j) {
				vals[i] = vals[j]
				repaired = true
				break
			}
		}
		if !repaired {
			for j := i + 1; j < len(vals); j++ {
				if finite(j) {
					vals[i] = vals[j]
					repaired = true
					break
				}
			}
		}
		if !repaired {
			vals[i] = 0
		}
	}
	s.Valid = nil
}
