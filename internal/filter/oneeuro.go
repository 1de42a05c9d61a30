// Package filter provides adaptive low-pass filtering for landmark jitter.
package filter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ayusman/mudra/internal/coords"
)

// minDelta bounds dt so repeated or out-of-order timestamps never divide by zero.
const minDelta = time.Millisecond

// ErrInvalidParams is returned when smoothing parameters fail validation.
var ErrInvalidParams = errors.New("invalid smoothing params")

// Params configures a One-Euro filter.
type Params struct {
	// MinCutoff is the minimum cutoff frequency in Hz. Lower is smoother.
	MinCutoff float64 `json:"minCutoff" yaml:"min_cutoff"`
	// Beta is the speed coefficient. Higher means less lag on fast motion.
	Beta float64 `json:"beta" yaml:"beta"`
	// DCutoff is the cutoff frequency in Hz of the derivative filter.
	DCutoff float64 `json:"dCutoff" yaml:"d_cutoff"`
}

// DefaultParams returns the cursor smoothing defaults.
func DefaultParams() Params {
	return Params{
		MinCutoff: 1.0,
		Beta:      0.007,
		DCutoff:   1.0,
	}
}

// Validate checks that the parameters describe a usable filter.
func (p Params) Validate() error {
	if !(p.MinCutoff > 0) {
		return fmt.Errorf("%w: min_cutoff must be > 0, got %v", ErrInvalidParams, p.MinCutoff)
	}
	if !(p.DCutoff > 0) {
		return fmt.Errorf("%w: d_cutoff must be > 0, got %v", ErrInvalidParams, p.DCutoff)
	}
	if !(p.Beta >= 0) {
		return fmt.Errorf("%w: beta must be >= 0, got %v", ErrInvalidParams, p.Beta)
	}
	return nil
}

// smoothingFactor converts a cutoff frequency into an exponential smoothing
// factor for a sample interval of dt seconds.
func smoothingFactor(cutoff, dt float64) float64 {
	tau := 1 / (2 * math.Pi * cutoff)
	return 1 / (1 + tau/dt)
}

// OneEuro is a scalar One-Euro filter: an exponential low-pass filter whose
// cutoff rises with the estimated speed of the signal.
type OneEuro struct {
	params Params

	initialized bool
	lastT       time.Time
	lastValue   float64 // last filtered output
	lastDeriv   float64 // last filtered derivative
}

// NewOneEuro creates a scalar filter.
func NewOneEuro(p Params) *OneEuro {
	return &OneEuro{params: p}
}

// Filter feeds one sample taken at t and returns the filtered value.
// The first sample after construction or Reset is returned unchanged.
func (f *OneEuro) Filter(value float64, t time.Time) float64 {
	if !f.initialized {
		f.initialized = true
		f.lastT = t
		f.lastValue = value
		f.lastDeriv = 0
		return value
	}

	elapsed := t.Sub(f.lastT)
	if elapsed < minDelta {
		elapsed = minDelta
	}
	dt := elapsed.Seconds()

	dx := (value - f.lastValue) / dt
	aD := smoothingFactor(f.params.DCutoff, dt)
	edx := aD*dx + (1-aD)*f.lastDeriv

	cutoff := f.params.MinCutoff + f.params.Beta*math.Abs(edx)
	a := smoothingFactor(cutoff, dt)
	out := a*value + (1-a)*f.lastValue

	f.lastT = t
	f.lastValue = out
	f.lastDeriv = edx
	return out
}

// Reset clears all state; the next Filter call behaves as the first.
func (f *OneEuro) Reset() {
	f.initialized = false
	f.lastT = time.Time{}
	f.lastValue = 0
	f.lastDeriv = 0
}

// PointFilter smooths a 2-D point with two independent scalar filters.
type PointFilter struct {
	x *OneEuro
	y *OneEuro
}

// NewPointFilter creates a point filter with the same params on both axes.
func NewPointFilter(p Params) *PointFilter {
	return &PointFilter{
		x: NewOneEuro(p),
		y: NewOneEuro(p),
	}
}

// Filter smooths both axes at timestamp t.
func (f *PointFilter) Filter(p coords.Point, t time.Time) coords.Point {
	return coords.Point{
		X: f.x.Filter(p.X, t),
		Y: f.y.Filter(p.Y, t),
	}
}

// Reset clears both axes.
func (f *PointFilter) Reset() {
	f.x.Reset()
	f.y.Reset()
}
