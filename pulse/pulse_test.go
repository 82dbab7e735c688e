// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func scenarioConfig() Config {
	return Config{
		Readout: ReadoutConfig{
			SampleCount:    1000,
			PreSampleCount: 200,
			SampleRate:     1e6,
		},
		Analysis: AnalysisConfig{
			CutoffFrequency:    100e3,
			BaselinePreSamples: 20,
			PeakSearchSamples:  100,
			PeakAvgPreSamples:  5,
			PeakAvgPostSamples: 5,
			RiseHighRatio:      0.8,
			RiseLowRatio:       0.2,
			DecayHighRatio:     0.8,
			DecayLowRatio:      0.2,
		},
	}
}

// trapezoid returns a pulse of n samples: 0 before 200, a ramp up to amp
// over [200,210), a plateau over [210,250), a ramp down over [250,260)
// then 0.
func trapezoid(n int, amp float64) []float64 {
	wf := make([]float64, n)
	for i := range wf {
		switch {
		case i < 200:
			wf[i] = 0
		case i < 210:
			wf[i] = amp * float64(i-200) / 10
		case i < 250:
			wf[i] = amp
		case i < 260:
			wf[i] = amp - amp*float64(i-250)/10
		}
	}
	return wf
}

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "pulse: ", 0)
}

func writeFile(t *testing.T, fname string, raw []byte) {
	t.Helper()
	err := os.MkdirAll(filepath.Dir(fname), 0755)
	if err != nil {
		t.Fatalf("could not create dir of %q: %+v", fname, err)
	}
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatalf("could not write %q: %+v", fname, err)
	}
}

func pulsePath(dir string, ch, id uint32) string {
	return filepath.Join(ChannelDir(dir, ch), "rawdata", fmt.Sprintf("CH%d_%d.dat", ch, id))
}

// makeFolder creates a data folder with npulses valid captures per channel.
func makeFolder(t *testing.T, dir string, cfg Config, npulses int, chans ...uint32) {
	t.Helper()
	err := SaveConfig(filepath.Join(dir, ConfigName), cfg)
	if err != nil {
		t.Fatalf("could not save config: %+v", err)
	}
	for _, ch := range chans {
		for i := 0; i < npulses; i++ {
			id := uint32(i + 1)
			wf := trapezoid(cfg.Readout.SampleCount, 50+float64(id))
			writeFile(t, pulsePath(dir, ch, id), EncodeWaveform(wf))
		}
	}
}

// countingLoader wraps LoadWaveform and counts the number of loaded files.
type countingLoader struct {
	n atomic.Int64
}

func (cl *countingLoader) load(fname string) ([]float64, error) {
	cl.n.Add(1)
	return LoadWaveform(fname)
}
