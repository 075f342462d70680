package trcd

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// baselineFraction is the share of the record treated as the pre-trigger
// region when no explicit pump-off shot is available.  The trigger sits just
// inside the first division of the record.
const baselineFraction = 0.09

// baselineRatio computes the mean of num/den over the pre-trigger region.
func baselineRatio(num, den []float64) float64 {
	n := int(math.Floor(float64(len(num)) * baselineFraction))
	if n < 1 {
		n = 1
	}
	ratios := make([]float64, n)
	for i := 0; i < n; i++ {
		ratios[i] = num[i] / den[i]
	}
	return stat.Mean(ratios, nil)
}

// DA computes the differential absorption -log10((par/ref)/baseline), where
// the baseline is the mean of par/ref over the pre-trigger region.
//
// Division by a near-zero reference is deliberately unguarded; Inf or NaN in
// the output marks a bad shot for downstream analysis, not a control error.
func DA(par, ref []float64) []float64 {
	base := baselineRatio(par, ref)
	out := make([]float64, len(par))
	for i := 0; i < len(par); i++ {
		out[i] = -math.Log10(par[i] / ref[i] / base)
	}
	return out
}

// DAPaired computes the differential absorption from an explicit
// with-pump/without-pump shot pair.
func DAPaired(withPump, withoutPump Measurement) []float64 {
	out := make([]float64, len(withPump.Par))
	for i := 0; i < len(out); i++ {
		w := withPump.Par[i] / withPump.Ref[i]
		wo := withoutPump.Par[i] / withoutPump.Ref[i]
		out[i] = -math.Log10(w / wo)
	}
	return out
}

// DCD computes the differential circular dichroism
// (4/(2.3*delta))*(perp/par - baseline), with the same baseline convention
// as DA.  delta is the stress-plate retardation; validating it is the
// caller's job, once per run.
func DCD(par, perp []float64, delta float64) []float64 {
	base := baselineRatio(perp, par)
	k := 4 / (2.3 * delta)
	out := make([]float64, len(par))
	for i := 0; i < len(par); i++ {
		out[i] = k * (perp[i]/par[i] - base)
	}
	return out
}

// DCDPaired computes the differential circular dichroism from an explicit
// with-pump/without-pump shot pair.
func DCDPaired(withPump, withoutPump Measurement, delta float64) []float64 {
	k := 4 / (2.3 * delta)
	out := make([]float64, len(withPump.Par))
	for i := 0; i < len(out); i++ {
		w := withPump.Perp[i] / withPump.Par[i]
		wo := withoutPump.Perp[i] / withoutPump.Par[i]
		out[i] = k * (w - wo)
	}
	return out
}
