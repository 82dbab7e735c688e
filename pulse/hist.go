// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"go-hep.org/x/hep/hbook"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/floats"
)

// HistName is the name of the histogram file of a channel.
const HistName = "Info.yoda"

const defaultBins = 100

// PeakHist returns the distribution of the averaged peak heights of tbl.
// The range of the histogram spans the data.
func PeakHist(tbl Table, nbins int) *hbook.H1D {
	xs := column(tbl, func(f Features) float64 { return f.PeakAverage })
	lo, hi := bounds(xs)

	h := hbook.NewH1D(bins(nbins), lo, hi)
	h.Ann["name"] = "peak-average"
	h.Ann["title"] = "averaged peak height"
	for _, x := range xs {
		h.Fill(x, 1)
	}
	return h
}

// RiseDecayHist returns the joint distribution of the rise and decay
// times of tbl, in seconds.
func RiseDecayHist(tbl Table, nbins int) *hbook.H2D {
	var (
		xs = column(tbl, func(f Features) float64 { return f.RiseTime })
		ys = column(tbl, func(f Features) float64 { return f.DecayTime })

		xlo, xhi = bounds(xs)
		ylo, yhi = bounds(ys)
	)

	h := hbook.NewH2D(bins(nbins), xlo, xhi, bins(nbins), ylo, yhi)
	h.Ann["name"] = "rise-decay"
	h.Ann["title"] = "rise time vs decay time"
	for i := range xs {
		h.Fill(xs[i], ys[i], 1)
	}
	return h
}

// SaveHists writes the histograms of channel ch to fname, in YODA format.
func SaveHists(fname string, ch uint32, tbl Table, nbins int) error {
	var (
		h1 = PeakHist(tbl, nbins)
		h2 = RiseDecayHist(tbl, nbins)
	)
	h1.Ann["name"] = fmt.Sprintf("CH%d/%v", ch, h1.Ann["name"])
	h2.Ann["name"] = fmt.Sprintf("CH%d/%v", ch, h2.Ann["name"])

	buf := new(bytes.Buffer)
	for _, h := range []interface {
		MarshalYODA() ([]byte, error)
	}{h1, h2} {
		raw, err := h.MarshalYODA()
		if err != nil {
			return xerrors.Errorf("pulse: could not marshal histogram of channel %d: %w", ch, err)
		}
		buf.Write(raw)
		buf.WriteString("\n")
	}

	err := os.WriteFile(fname, buf.Bytes(), 0644)
	if err != nil {
		return xerrors.Errorf("pulse: could not write histograms of channel %d: %w", ch, err)
	}
	return nil
}

func bins(n int) int {
	if n <= 0 {
		return defaultBins
	}
	return n
}

// column returns one feature of all pulses of tbl, in pulse order.
func column(tbl Table, get func(Features) float64) []float64 {
	keys := tbl.Keys()
	xs := make([]float64, len(keys))
	for i, k := range keys {
		xs[i] = get(tbl[k])
	}
	return xs
}

// bounds returns a range holding all values of xs, with a 1% margin so the
// maximum does not land in the overflow bin.
func bounds(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 1
	}
	lo, hi = floats.Min(xs), floats.Max(xs)
	pad := 0.01 * (hi - lo)
	if pad == 0 {
		pad = 0.5
		if lo != 0 {
			pad = 0.5 * math.Abs(lo)
		}
	}
	return lo - pad, hi + pad
}
