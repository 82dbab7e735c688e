// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"math"
	"strconv"

	"golang.org/x/xerrors"
)

// Coefficients describe one second-order IIR section:
//
//	         B[0] + B[1] z^-1 + B[2] z^-2
//	H(z) = --------------------------------
//	         A[0] + A[1] z^-1 + A[2] z^-2
//
// Coefficients are shared read-only by all workers of a run.
type Coefficients struct {
	B [3]float64 // feed-forward
	A [3]float64 // feed-back; A[0] is usually 1
}

// Validate checks that c describes a realizable section.
func (c Coefficients) Validate() error {
	if c.A[0] == 0 {
		return xerrors.Errorf("pulse: filter coefficients with a0=0: %w", ErrConfig)
	}
	for i := range c.B {
		if !isFinite(c.B[i]) || !isFinite(c.A[i]) {
			return xerrors.Errorf("pulse: non-finite filter coefficients %+v: %w", c, ErrNumeric)
		}
	}
	return nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// normalized returns c scaled so that A[0] == 1.
func (c Coefficients) normalized() Coefficients {
	a0 := c.A[0]
	if a0 == 1 || a0 == 0 {
		return c
	}
	for i := range c.B {
		c.B[i] /= a0
		c.A[i] /= a0
	}
	return c
}

// Designer computes the low-pass section used to smooth pulses.
type Designer interface {
	Design(rate, cutoff float64) (Coefficients, error)
}

// Norm selects the frequency normalization of a Bessel design.
type Norm uint8

const (
	// PhaseNorm places the phase mid-point at the cutoff frequency.
	// The asymptotes match a Butterworth filter of the same order.
	PhaseNorm Norm = iota
	// MagNorm places the -3 dB point at the cutoff frequency.
	MagNorm
)

func (n Norm) String() string {
	switch n {
	case PhaseNorm:
		return "phase"
	case MagNorm:
		return "mag"
	default:
		return "Norm(" + strconv.Itoa(int(n)) + ")"
	}
}

// BesselDesigner designs second-order Bessel (Thomson) low-pass sections
// with the bilinear transform and a pre-warped cutoff.
type BesselDesigner struct {
	Norm Norm
}

// Second-order Bessel prototype: the delay-normalized pole pair is
// -3/2 ± i·√3/2, the roots of s² + 3s + 3.
const (
	besselDelayRe = 1.5
	besselDelayIm = 0.8660254037844386

	besselPhaseScale = 1.7320508075688772 // √3, a0^(1/N)
	besselMagScale   = 1.36165412871613
)

// Design implements Designer.
func (d BesselDesigner) Design(rate, cutoff float64) (Coefficients, error) {
	var c Coefficients
	switch {
	case !(rate > 0) || math.IsInf(rate, 0):
		return c, xerrors.Errorf("pulse: invalid filter sampling rate %v: %w", rate, ErrConfig)
	case !(cutoff > 0) || cutoff >= rate/2:
		return c, xerrors.Errorf(
			"pulse: filter cutoff %v outside (0, %v): %w",
			cutoff, rate/2, ErrConfig,
		)
	}

	var scale float64
	switch d.Norm {
	case PhaseNorm:
		scale = besselPhaseScale
	case MagNorm:
		scale = besselMagScale
	default:
		return c, xerrors.Errorf("pulse: unknown Bessel normalization %v: %w", d.Norm, ErrConfig)
	}

	var (
		wc = math.Tan(math.Pi * cutoff / rate)
		re = besselDelayRe / scale * wc
		im = besselDelayIm / scale * wc
		p2 = re*re + im*im

		// bilinear transform, s = (z-1)/(z+1).
		a0 = 1 + 2*re + p2
		a1 = -2 + 2*p2
		a2 = 1 - 2*re + p2
	)

	c.B = [3]float64{p2 / a0, 2 * p2 / a0, p2 / a0}
	c.A = [3]float64{1, a1 / a0, a2 / a0}
	return c, nil
}

// section is a direct-form II transposed biquad.
type section struct {
	b0, b1, b2 float64
	a1, a2     float64

	d0, d1 float64
}

func newSection(c Coefficients) section {
	c = c.normalized()
	return section{
		b0: c.B[0], b1: c.B[1], b2: c.B[2],
		a1: c.A[1], a2: c.A[2],
	}
}

func (s *section) process(x float64) float64 {
	y := s.b0*x + s.d0
	s.d0 = s.b1*x - s.a1*y + s.d1
	s.d1 = s.b2*x - s.a2*y
	return y
}

// Filter applies the causal section c to sig, in place.
func Filter(c Coefficients, sig []float64) []float64 {
	s := newSection(c)
	for i, x := range sig {
		sig[i] = s.process(x)
	}
	return sig
}

// Filtfilt applies c forward then backward over sig, in place, which
// cancels the phase response of the section and squares its magnitude
// response. The filter starts from a zero state in both directions.
func Filtfilt(c Coefficients, sig []float64) []float64 {
	Filter(c, sig)

	s := newSection(c)
	for i := len(sig) - 1; i >= 0; i-- {
		sig[i] = s.process(sig[i])
	}
	return sig
}
