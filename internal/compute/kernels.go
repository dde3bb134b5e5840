package compute

import "math"

// Built-in kernel programs. Each carries a version; the version scopes
// the runtime's cache so a future revision cannot be served stale under
// the same key.

// ConstantFill broadcasts uniform[0] across its single output. Generator
// kernel: dispatched once, loops over the output length.
var ConstantFill = &Program{
	Name:    "constant_fill",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			v := uniformF32At(inv.Uniform, 0)
			out := inv.Outputs[0].F32s
			for i := range out {
				out[i] = v
			}
		},
	},
}

// DifferencePair computes in0[i] - in1[i] elementwise.
var DifferencePair = &Program{
	Name:    "difference_pair",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			i := inv.GlobalID
			a := inv.Inputs[0].F32s
			b := inv.Inputs[1].F32s
			if int(i) >= len(a) {
				return
			}
			inv.Outputs[0].F32s[i] = a[i] - b[i]
		},
	},
}

// SmaCentered computes a centered simple moving average of the input
// over uniform period (u32 at offset 0). Windows truncate at the edges.
var SmaCentered = &Program{
	Name:    "sma_centered",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			i := int(inv.GlobalID)
			src := inv.Inputs[0].F32s
			n := len(src)
			if i >= n {
				return
			}
			period := int(uniformU32At(inv.Uniform, 0))
			if period < 1 {
				period = 1
			}
			half := period / 2
			lo := i - half
			if lo < 0 {
				lo = 0
			}
			hi := i + half
			if hi > n-1 {
				hi = n - 1
			}
			var sum float64
			for j := lo; j <= hi; j++ {
				sum += float64(src[j])
			}
			inv.Outputs[0].F32s[i] = float32(sum / float64(hi-lo+1))
		},
	},
}

// VolatilityVolOnly computes a rolling log-return sample standard
// deviation of the input price series. Uniform layout: period u32 at
// offset 0, annualize flag u32 at offset 1 (multiplies by sqrt 252).
// Rows before a full window emit 0.
var VolatilityVolOnly = &Program{
	Name:    "volatility_vol_only",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			i := int(inv.GlobalID)
			price := inv.Inputs[0].F32s
			n := len(price)
			if i >= n {
				return
			}
			period := int(uniformU32At(inv.Uniform, 0))
			annualize := uniformU32At(inv.Uniform, 1)
			if period < 2 || i < period {
				inv.Outputs[0].F32s[i] = 0
				return
			}

			logReturn := func(j int) float64 {
				prev := float64(price[j-1])
				cur := float64(price[j])
				if prev > 0 && cur > 0 {
					return math.Log(cur / prev)
				}
				return 0
			}

			var sum float64
			for j := i - period + 1; j <= i; j++ {
				sum += logReturn(j)
			}
			mean := sum / float64(period)
			var ss float64
			for j := i - period + 1; j <= i; j++ {
				d := logReturn(j) - mean
				ss += d * d
			}
			std := math.Sqrt(ss / float64(period-1))
			if annualize != 0 {
				std *= math.Sqrt(252)
			}
			inv.Outputs[0].F32s[i] = float32(std)
		},
	},
}

// BandFromVol computes price[i] + scale*vol[i], scale f32 at uniform
// offset 0. The negative band reuses the kernel with a negated scale.
var BandFromVol = &Program{
	Name:    "band_from_vol",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			i := inv.GlobalID
			price := inv.Inputs[0].F32s
			vol := inv.Inputs[1].F32s
			if int(i) >= len(price) {
				return
			}
			scale := uniformF32At(inv.Uniform, 0)
			inv.Outputs[0].F32s[i] = price[i] + scale*vol[i]
		},
	},
}

// MulIndex computes float(i) * y[i], the cross term of an index-variable
// regression.
var MulIndex = &Program{
	Name:    "mul_index",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			i := inv.GlobalID
			y := inv.Inputs[0].F32s
			if int(i) >= len(y) {
				return
			}
			inv.Outputs[0].F32s[i] = float32(i) * y[i]
		},
	},
}

// ReduceSum adds the input into a length-1 scalar output using the
// single-pass atomic-add pattern. The output buffer starts zeroed.
var ReduceSum = &Program{
	Name:    "reduce_sum",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			i := inv.GlobalID
			x := inv.Inputs[0].F32s
			if int(i) >= len(x) {
				return
			}
			inv.AtomicAddF32(inv.Outputs[0], 0, x[i])
		},
	},
}

// AxpbIndex broadcasts a + b*float(i) across its output. Uniform layout:
// a f32 at offset 0, b f32 at offset 1. Generator kernel.
var AxpbIndex = &Program{
	Name:    "axpb_index",
	Version: "v1",
	Entries: map[string]Kernel{
		"main": func(inv *Invocation) {
			a := uniformF32At(inv.Uniform, 0)
			b := uniformF32At(inv.Uniform, 1)
			out := inv.Outputs[0].F32s
			for i := range out {
				out[i] = a + b*float32(i)
			}
		},
	},
}
