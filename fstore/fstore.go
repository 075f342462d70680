// Package fstore persists reconstructed waveforms to a per-shot,
// per-wavelength directory tree as FITS arrays.
package fstore

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/astrogo/fitsio"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// SlotName returns the directory slot for a shot/wavelength pair: the shot
// index 1-based and zero-padded to 4 digits, then the wavelength in
// hundredths of a nm, floored.
func SlotName(shot int, wl float64) string {
	return filepath.Join(
		fmt.Sprintf("%04d", shot+1),
		fmt.Sprintf("%d", int(math.Floor(wl*100))),
	)
}

// Layout writes measurement arrays beneath a root directory.
type Layout struct {
	Root string
}

// SlotPath returns the absolute directory for a shot/wavelength pair.
func (l *Layout) SlotPath(shot int, wl float64) string {
	return filepath.Join(l.Root, SlotName(shot, wl))
}

// EnsureChunkDirs creates the directory skeleton for every shot/wavelength
// pair in a chunk.  Doing a chunk at a time amortizes the filesystem calls
// and lets the operator watch the skeleton grow.
func (l *Layout) EnsureChunkDirs(shots []int, wls []float64) error {
	for _, shot := range shots {
		for _, wl := range wls {
			if err := os.MkdirAll(l.SlotPath(shot, wl), 0777); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeFits streams a 1-D float64 array to a FITS file.
func writeFits(path string, dims []int, data []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// WriteArray persists one named channel array into a shot/wavelength slot.
func (l *Layout) WriteArray(shot int, wl float64, name string, data []float64) error {
	path := filepath.Join(l.SlotPath(shot, wl), name+".fits")
	return writeFits(path, []int{len(data)}, data)
}

// WriteDarkTable persists the run-level dark baselines, indexed
// [shot][wavelength], as a 3-D array of shape (3, wavelengths, shots).
func (l *Layout) WriteDarkTable(table [][]trcd.DarkSignal) error {
	if len(table) == 0 {
		return nil
	}
	nshots := len(table)
	nwls := len(table[0])
	flat := make([]float64, 0, nshots*nwls*3)
	for _, row := range table {
		for _, d := range row {
			flat = append(flat, d.Par, d.Perp, d.Ref)
		}
	}
	path := filepath.Join(l.Root, "dark.fits")
	return writeFits(path, []int{3, nwls, nshots}, flat)
}
