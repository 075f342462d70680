package zaber

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/interp"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// Calibration maps target wavelengths to actuator step positions by cubic
// interpolation over a measured table.
type Calibration struct {
	minWl, maxWl float64
	spline       interp.AkimaSpline
}

// NewCalibration builds a calibration from paired wavelength and step data.
// Wavelengths must be strictly increasing.
func NewCalibration(wavelengths, steps []float64) (*Calibration, error) {
	if len(wavelengths) != len(steps) {
		return nil, trcd.ConfigurationError{Msg: "calibration wavelength and step columns differ in length"}
	}
	if len(wavelengths) < 3 {
		return nil, trcd.ConfigurationError{Msg: "calibration curve needs at least 3 points"}
	}
	c := &Calibration{minWl: wavelengths[0], maxWl: wavelengths[len(wavelengths)-1]}
	err := c.spline.Fit(wavelengths, steps)
	if err != nil {
		return nil, trcd.ConfigurationError{Msg: fmt.Sprintf("calibration curve unusable: %v", err)}
	}
	return c, nil
}

// LoadCalibration reads a two-column CSV of wavelength,steps rows.
func LoadCalibration(path string) (*Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trcd.ConfigurationError{Msg: fmt.Sprintf("calibration file unreadable: %v", err)}
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, trcd.ConfigurationError{Msg: fmt.Sprintf("calibration file unreadable: %v", err)}
	}
	wls := make([]float64, 0, len(records))
	steps := make([]float64, 0, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			return nil, trcd.ConfigurationError{Msg: fmt.Sprintf("calibration row too short: %v", rec)}
		}
		w, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, trcd.ConfigurationError{Msg: fmt.Sprintf("bad calibration wavelength %q", rec[0])}
		}
		s, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, trcd.ConfigurationError{Msg: fmt.Sprintf("bad calibration step count %q", rec[1])}
		}
		wls = append(wls, w)
		steps = append(steps, s)
	}
	return NewCalibration(wls, steps)
}

// Bounds returns the wavelength range covered by the table.
func (c *Calibration) Bounds() (min, max float64) {
	return c.minWl, c.maxWl
}

// Steps returns the step position for a wavelength, floored as the table
// was measured.
func (c *Calibration) Steps(wl float64) (int, error) {
	if wl < c.minWl || wl > c.maxWl {
		return 0, trcd.MotionError{
			Device: "zaber",
			Target: wl,
			Msg:    fmt.Sprintf("outside calibrated range [%g, %g]", c.minWl, c.maxWl),
		}
	}
	return int(math.Floor(c.spline.Predict(wl))), nil
}
