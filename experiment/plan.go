package experiment

import (
	"fmt"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// Travel limits of the etalon actuator in nm.  The calibration table was
// only ever measured over this window.
const (
	TravelMin = 780
	TravelMax = 850
)

// NewPlanRange builds a wavelength plan from an inclusive range.
func NewPlanRange(start, stop, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, trcd.ConfigurationError{Msg: "wavelength step must be > 0"}
	}
	if start >= stop {
		return nil, trcd.ConfigurationError{Msg: "final wavelength must be greater than initial wavelength"}
	}
	var wls []float64
	for w := start; w <= stop+1e-9; w += step {
		wls = append(wls, w)
	}
	if err := ValidatePlan(wls); err != nil {
		return nil, err
	}
	return wls, nil
}

// ValidatePlan checks that a wavelength plan is usable: nonempty, within the
// actuator's travel, and strictly increasing.  The actuator is driven to a
// reference position and then only advanced, because backlash makes
// retreating moves inaccurate.
func ValidatePlan(wls []float64) error {
	if len(wls) == 0 {
		return trcd.ConfigurationError{Msg: "no wavelengths specified"}
	}
	for i, w := range wls {
		if w < TravelMin || w > TravelMax {
			return trcd.ConfigurationError{
				Msg: fmt.Sprintf("wavelength %g outside the [%d, %d] nm travel range", w, TravelMin, TravelMax),
			}
		}
		if i > 0 && w <= wls[i-1] {
			return trcd.ConfigurationError{
				Msg: fmt.Sprintf("wavelengths must be strictly increasing, got %g after %g", w, wls[i-1]),
			}
		}
	}
	return nil
}

// chunks splits the shot indices 0..n-1 into batches of at most size.
func chunks(n, size int) [][]int {
	var out [][]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		c := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			c = append(c, i)
		}
		out = append(out, c)
	}
	return out
}
