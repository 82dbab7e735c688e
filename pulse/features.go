// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Features are the timing and amplitude quantities of one pulse.
type Features struct {
	Base        float64 // baseline offset, in input units
	PeakAverage float64 // baseline-subtracted height averaged around the peak
	PeakIndex   uint32  // sample index of the maximum
	RiseTime    float64 // in seconds
	DecayTime   float64 // in seconds
}

// Diagnostics holds the intermediate values of a feature extraction.
// Windows are half-open sample ranges [Start, End).
// Indices that were not reached are -1.
type Diagnostics struct {
	Peak float64 // raw maximum of the baseline-subtracted waveform

	BaseStart        int
	BaseEnd          int
	PeakSearchEnd    int
	PeakAverageStart int
	PeakAverageEnd   int

	RiseHighIndex  int
	RiseLowIndex   int
	DecayHighIndex int
	DecayLowIndex  int
}

func newDiagnostics(rc ReadoutConfig, ac AnalysisConfig) Diagnostics {
	mid := rc.PreSampleCount / 2
	return Diagnostics{
		BaseStart:        mid - ac.BaselinePreSamples,
		BaseEnd:          mid + ac.BaselinePreSamples,
		PeakSearchEnd:    rc.PreSampleCount + ac.PeakSearchSamples,
		PeakAverageStart: -1,
		PeakAverageEnd:   -1,
		RiseHighIndex:    -1,
		RiseLowIndex:     -1,
		DecayHighIndex:   -1,
		DecayLowIndex:    -1,
	}
}

// Extract computes the features of the filtered waveform wf.
// wf is modified in place: the baseline is subtracted from every sample.
func Extract(rc ReadoutConfig, ac AnalysisConfig, wf []float64) (Features, Diagnostics, error) {
	var (
		feat Features
		diag = newDiagnostics(rc, ac)
		n    = len(wf)
	)

	switch {
	case ac.BaselinePreSamples < 0 || ac.PeakSearchSamples < 0 ||
		ac.PeakAvgPreSamples < 0 || ac.PeakAvgPostSamples < 0:
		return feat, diag, xerrors.Errorf("pulse: negative window size: %w", ErrConfig)
	case diag.BaseStart < 0 || rc.PreSampleCount < 0:
		return feat, diag, xerrors.Errorf(
			"pulse: baseline window [%d, %d) starts before first sample: %w",
			diag.BaseStart, diag.BaseEnd, ErrConfig,
		)
	}

	if end := max(diag.BaseEnd, diag.PeakSearchEnd); n <= end {
		return feat, diag, xerrors.Errorf(
			"pulse: waveform of %d samples, need more than %d: %w",
			n, end, ErrTooShort,
		)
	}

	base, err := mean(wf[diag.BaseStart:diag.BaseEnd], "baseline")
	if err != nil {
		return feat, diag, err
	}
	feat.Base = base
	floats.AddConst(-base, wf)

	search := wf[rc.PreSampleCount:diag.PeakSearchEnd]
	switch {
	case len(search) == 0:
		return feat, diag, xerrors.Errorf("pulse: empty peak search window: %w", ErrNumeric)
	case floats.HasNaN(search):
		return feat, diag, xerrors.Errorf(
			"pulse: NaN in peak search window [%d, %d): %w",
			rc.PreSampleCount, diag.PeakSearchEnd, ErrNumeric,
		)
	}

	imax := lastMax(search)
	diag.Peak = search[imax]
	peak := imax + rc.PreSampleCount
	feat.PeakIndex = uint32(peak)

	diag.PeakAverageStart = peak - ac.PeakAvgPreSamples
	diag.PeakAverageEnd = peak + ac.PeakAvgPostSamples
	if diag.PeakAverageStart < 0 || n <= diag.PeakAverageEnd {
		return feat, diag, xerrors.Errorf(
			"pulse: peak average window [%d, %d) outside waveform of %d samples: %w",
			diag.PeakAverageStart, diag.PeakAverageEnd, n, ErrTooShort,
		)
	}

	avg, err := mean(wf[diag.PeakAverageStart:diag.PeakAverageEnd], "peak average")
	if err != nil {
		return feat, diag, err
	}
	feat.PeakAverage = avg

	diag.RiseHighIndex = lastBelow(wf[:peak], avg*ac.RiseHighRatio)
	if diag.RiseHighIndex < 0 {
		return feat, diag, notFound("rise-high", ac.RiseHighRatio, avg)
	}

	diag.RiseLowIndex = runStart(wf[:diag.RiseHighIndex], avg*ac.RiseLowRatio)
	if diag.RiseLowIndex < 0 {
		return feat, diag, notFound("rise-low", ac.RiseLowRatio, avg)
	}

	diag.DecayHighIndex = firstBelow(wf, peak, avg*ac.DecayHighRatio)
	if diag.DecayHighIndex < 0 {
		return feat, diag, notFound("decay-high", ac.DecayHighRatio, avg)
	}

	diag.DecayLowIndex = firstBelow(wf, diag.DecayHighIndex, avg*ac.DecayLowRatio)
	if diag.DecayLowIndex < 0 {
		return feat, diag, notFound("decay-low", ac.DecayLowRatio, avg)
	}

	feat.RiseTime = float64(diag.RiseHighIndex-diag.RiseLowIndex) / rc.SampleRate
	feat.DecayTime = float64(diag.DecayLowIndex-diag.DecayHighIndex) / rc.SampleRate

	return feat, diag, nil
}

func mean(xs []float64, name string) (float64, error) {
	if len(xs) == 0 {
		return 0, xerrors.Errorf("pulse: empty %s window: %w", name, ErrNumeric)
	}
	return stat.Mean(xs, nil), nil
}

func notFound(name string, ratio, height float64) error {
	return xerrors.Errorf(
		"pulse: no %s crossing at %v×%v: %w",
		name, ratio, height, ErrNotFound,
	)
}

// lastMax returns the index of the maximum of xs.
// Ties resolve to the last index.
func lastMax(xs []float64) int {
	imax := 0
	for i, v := range xs {
		if v >= xs[imax] {
			imax = i
		}
	}
	return imax
}

// lastBelow returns the largest index i with xs[i] < thr, or -1.
func lastBelow(xs []float64, thr float64) int {
	for i := len(xs) - 1; i >= 0; i-- {
		if xs[i] < thr {
			return i
		}
	}
	return -1
}

// runStart returns the first index of the trailing run of samples of xs
// that are above thr. An empty run yields len(xs).
// It returns -1 when the run extends to the first sample, i.e. when the
// signal never was at or below thr.
func runStart(xs []float64, thr float64) int {
	for i := len(xs) - 1; i >= 0; i-- {
		if !(xs[i] > thr) {
			return i + 1
		}
	}
	return -1
}

// firstBelow returns the smallest index i >= beg with xs[i] < thr, or -1.
func firstBelow(xs []float64, beg int, thr float64) int {
	for i := beg; i < len(xs); i++ {
		if xs[i] < thr {
			return i
		}
	}
	return -1
}
