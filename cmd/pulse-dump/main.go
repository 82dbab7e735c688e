// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// pulse-dump decodes TES pulse files and displays their features.
//
// Usage: pulse-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> pulse-dump -cfg ./data/PulseConfig.json ./data/CH1_pulse/rawdata/CH1_42.dat
//	=== ./data/CH1_pulse/rawdata/CH1_42.dat ===
//	Samples:            1000
//	Windows:       base=[80, 120) peak-search=[200, 300) peak-average=[244, 254)
//	Base:          -1.250e-03
//	Peak average:   9.400e+01 (peak=1.000e+02 @ 249)
//	Rise time:      5.000e-06 (samples [202, 207])
//	Decay time:     6.000e-06 (samples [253, 259])
package main // import "github.com/go-lpc/tes/cmd/pulse-dump"

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/tes/pulse"
)

func main() {
	log.SetPrefix("pulse-dump: ")
	log.SetFlags(0)

	var (
		fcfg = flag.String("cfg", "PulseConfig.json", "path to the analysis configuration")
		mag  = flag.Bool("mag", false, "normalize the Bessel filter on its -3dB point")
		raw  = flag.Bool("raw", false, "extract features from the unfiltered waveform")
	)

	flag.Usage = func() {
		fmt.Printf(`pulse-dump decodes TES pulse files and displays their features.

Usage: pulse-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input pulse file")
	}

	cfg, err := pulse.LoadConfig(*fcfg)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	var norm = pulse.PhaseNorm
	if *mag {
		norm = pulse.MagNorm
	}
	coeffs, err := pulse.BesselDesigner{Norm: norm}.Design(
		cfg.Readout.SampleRate, cfg.Analysis.CutoffFrequency,
	)
	if err != nil {
		log.Fatalf("could not design filter: %+v", err)
	}
	for _, fname := range flag.Args() {
		err := process(os.Stdout, cfg, coeffs, fname, *raw)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

// process displays the features of fname.
func process(w io.Writer, cfg pulse.Config, coeffs pulse.Coefficients, fname string, raw bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	wf, err := pulse.LoadWaveform(fname)
	if err != nil {
		return fmt.Errorf("could not load waveform: %w", err)
	}

	fmt.Fprintf(wbuf, "=== %s ===\n", fname)
	fmt.Fprintf(wbuf, "Samples:      % 10d\n", len(wf))

	if !raw {
		wf = pulse.Filtfilt(coeffs, wf)
	}

	feat, diag, err := pulse.Extract(cfg.Readout, cfg.Analysis, wf)
	fmt.Fprintf(wbuf, "Windows:       base=[%d, %d) peak-search=[%d, %d) peak-average=[%d, %d)\n",
		diag.BaseStart, diag.BaseEnd,
		cfg.Readout.PreSampleCount, diag.PeakSearchEnd,
		diag.PeakAverageStart, diag.PeakAverageEnd,
	)
	if err != nil {
		fmt.Fprintf(wbuf, "Error:         %v\n", err)
		return nil
	}

	fmt.Fprintf(wbuf, "Base:          % .3e\n", feat.Base)
	fmt.Fprintf(wbuf, "Peak average:  % .3e (peak=%.3e @ %d)\n", feat.PeakAverage, diag.Peak, feat.PeakIndex)
	fmt.Fprintf(wbuf, "Rise time:     % .3e (samples [%d, %d])\n", feat.RiseTime, diag.RiseLowIndex, diag.RiseHighIndex)
	fmt.Fprintf(wbuf, "Decay time:    % .3e (samples [%d, %d])\n", feat.DecayTime, diag.DecayHighIndex, diag.DecayLowIndex)

	return nil
}
