package trcd_test

import (
	"math"
	"testing"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

const tol = 1e-12

func near(a, b float64) bool {
	return math.Abs(a-b) < tol
}

func flatPreamble(scale, offsetLevels, zero float64) trcd.Preamble {
	cs := trcd.ChannelScaling{Scale: scale, OffsetLevels: offsetLevels, ZeroVolts: zero}
	return trcd.Preamble{TimeResolution: 1e-9, Par: cs, Perp: cs, Ref: cs, Points: 3}
}

func TestReconstructIdentity(t *testing.T) {
	raw := trcd.DigitizerLevels{
		Par:  []int{1, 2, 3},
		Perp: []int{4, 5, 6},
		Ref:  []int{7, 8, 9},
	}
	m := trcd.Reconstruct(flatPreamble(1, 0, 0), raw, nil)
	for i, want := range []float64{1, 2, 3} {
		if !near(m.Par[i], want) {
			t.Errorf("expected par[%d] == %g, got %g", i, want, m.Par[i])
		}
	}
	for i, want := range []float64{7, 8, 9} {
		if !near(m.Ref[i], want) {
			t.Errorf("expected ref[%d] == %g, got %g", i, want, m.Ref[i])
		}
	}
}

func TestReconstructLinearInScale(t *testing.T) {
	raw := trcd.DigitizerLevels{
		Par:  []int{100, 200, 300},
		Perp: []int{100, 200, 300},
		Ref:  []int{100, 200, 300},
	}
	one := trcd.Reconstruct(flatPreamble(1, 0, 0), raw, nil)
	two := trcd.Reconstruct(flatPreamble(2, 0, 0), raw, nil)
	for i := range one.Par {
		if !near(two.Par[i], 2*one.Par[i]) {
			t.Errorf("scaling the preamble by 2 did not scale sample %d by 2: %g vs %g", i, two.Par[i], one.Par[i])
		}
	}
}

func TestReconstructTranslatesWithZeroPoint(t *testing.T) {
	raw := trcd.DigitizerLevels{
		Par:  []int{10, 20},
		Perp: []int{10, 20},
		Ref:  []int{10, 20},
	}
	base := trcd.Reconstruct(flatPreamble(0.5, 0, 0), raw, nil)
	shifted := trcd.Reconstruct(flatPreamble(0.5, 0, 1.5), raw, nil)
	for i := range base.Par {
		if !near(shifted.Par[i], base.Par[i]+1.5) {
			t.Errorf("zero point did not translate sample %d: %g vs %g", i, shifted.Par[i], base.Par[i])
		}
	}
}

func TestReconstructSubtractsDark(t *testing.T) {
	raw := trcd.DigitizerLevels{
		Par:  []int{100, 200, 300},
		Perp: []int{100, 200, 300},
		Ref:  []int{100, 200, 300},
	}
	pre := flatPreamble(0.01, 0, 0)
	dark := trcd.DarkSignal{Par: 0.25, Perp: 0.5, Ref: 0.75}
	plain := trcd.Reconstruct(pre, raw, nil)
	withDark := trcd.Reconstruct(pre, raw, &dark)
	for i := range plain.Par {
		if !near(withDark.Par[i], plain.Par[i]-dark.Par) {
			t.Errorf("par[%d]: dark subtraction mismatch", i)
		}
		if !near(withDark.Perp[i], plain.Perp[i]-dark.Perp) {
			t.Errorf("perp[%d]: dark subtraction mismatch", i)
		}
		if !near(withDark.Ref[i], plain.Ref[i]-dark.Ref) {
			t.Errorf("ref[%d]: dark subtraction mismatch", i)
		}
	}
}

func TestReconstructOffsetLevels(t *testing.T) {
	raw := trcd.DigitizerLevels{
		Par:  []int{128},
		Perp: []int{128},
		Ref:  []int{128},
	}
	m := trcd.Reconstruct(flatPreamble(0.1, 128, 0), raw, nil)
	if !near(m.Par[0], 0) {
		t.Errorf("expected the zero-code level to reconstruct as 0 V, got %g", m.Par[0])
	}
}

func TestDarkMean(t *testing.T) {
	m := trcd.Measurement{
		Par:  []float64{1, 2, 3},
		Perp: []float64{2, 4, 6},
		Ref:  []float64{-1, 0, 1},
	}
	d := trcd.Dark(m)
	if !near(d.Par, 2) || !near(d.Perp, 4) || !near(d.Ref, 0) {
		t.Errorf("wrong dark baselines: %+v", d)
	}
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDAZeroWhenParEqualsRef(t *testing.T) {
	x := []float64{0.5, 1.2, 0.9, 1.1, 0.7, 1.3, 0.8, 1.0, 0.6, 1.4, 0.95, 1.05}
	da := trcd.DA(x, x)
	for i, v := range da {
		if math.Abs(v) > 1e-9 {
			t.Errorf("expected zero differential absorption at %d, got %g", i, v)
		}
	}
}

func TestDAUsesPretriggerBaseline(t *testing.T) {
	// 100 samples; par/ref == 2 in the pre-trigger region, 4 afterwards.
	// dA should be 0 before the trigger and -log10(2) after.
	n := 100
	par := make([]float64, n)
	ref := constant(n, 1)
	for i := 0; i < n; i++ {
		if i < 9 {
			par[i] = 2
		} else {
			par[i] = 4
		}
	}
	da := trcd.DA(par, ref)
	if math.Abs(da[0]) > 1e-9 {
		t.Errorf("expected zero dA in the pre-trigger region, got %g", da[0])
	}
	want := -math.Log10(2)
	if math.Abs(da[50]-want) > 1e-9 {
		t.Errorf("expected dA == %g after the trigger, got %g", want, da[50])
	}
}

func TestDAPropagatesNonFiniteValues(t *testing.T) {
	par := constant(20, 1)
	ref := constant(20, 1)
	ref[15] = 0
	da := trcd.DA(par, ref)
	if !math.IsInf(da[15], 0) && !math.IsNaN(da[15]) {
		t.Errorf("expected a non-finite marker for the bad sample, got %g", da[15])
	}
	if math.Abs(da[0]) > 1e-9 {
		t.Errorf("the bad sample polluted the rest of the record: da[0] == %g", da[0])
	}
}

func TestDCDZeroWhenRatioConstant(t *testing.T) {
	par := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	perp := make([]float64, len(par))
	for i := range par {
		perp[i] = 0.3 * par[i]
	}
	cd := trcd.DCD(par, perp, 0.038)
	for i, v := range cd {
		if math.Abs(v) > 1e-9 {
			t.Errorf("expected uniformly zero dCD for a constant ratio, got %g at %d", v, i)
		}
	}
}

func TestDCDScalesInverselyWithDelta(t *testing.T) {
	n := 100
	par := constant(n, 1)
	perp := constant(n, 1)
	for i := 9; i < n; i++ {
		perp[i] = 2
	}
	a := trcd.DCD(par, perp, 0.038)
	b := trcd.DCD(par, perp, 0.076)
	if math.Abs(a[50]-2*b[50]) > 1e-9 {
		t.Errorf("doubling delta should halve dCD: %g vs %g", a[50], b[50])
	}
}

func TestDAPaired(t *testing.T) {
	withPump := trcd.Measurement{
		Par: constant(4, 1),
		Ref: constant(4, 2),
	}
	withoutPump := trcd.Measurement{
		Par: constant(4, 2),
		Ref: constant(4, 2),
	}
	da := trcd.DAPaired(withPump, withoutPump)
	want := -math.Log10(0.5)
	for i, v := range da {
		if math.Abs(v-want) > 1e-9 {
			t.Errorf("expected paired dA == %g, got %g at %d", want, v, i)
		}
	}
}

func TestDCDPairedZeroWhenIdentical(t *testing.T) {
	m := trcd.Measurement{
		Par:  []float64{1, 2, 3},
		Perp: []float64{0.5, 1, 1.5},
	}
	cd := trcd.DCDPaired(m, m, 0.038)
	for i, v := range cd {
		if math.Abs(v) > 1e-12 {
			t.Errorf("identical shots should give zero dCD, got %g at %d", v, i)
		}
	}
}
