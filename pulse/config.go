// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"encoding/json"
	"errors"
	"math"
	"os"

	"golang.org/x/xerrors"
)

// ReadoutConfig describes how pulses were digitized.
type ReadoutConfig struct {
	SampleCount    int     `json:"Sample"`    // number of samples per capture
	PreSampleCount int     `json:"PreSample"` // number of samples before the trigger
	SampleRate     float64 `json:"Rate"`      // sampling rate, in Hz
}

// AnalysisConfig holds the knobs of the feature extraction.
// Sample counts are expressed in samples, ratios are fractions of the
// averaged peak height.
type AnalysisConfig struct {
	CutoffFrequency     float64 `json:"CutoffFrequency"` // low-pass cutoff, in Hz
	BaselinePreSamples  int     `json:"BaseLinePreSample"`
	BaselinePostSamples int     `json:"BaseLinePostSample"`
	PeakSearchSamples   int     `json:"PeakSearchSample"`
	PeakAvgPreSamples   int     `json:"PeakAveragePreSample"`
	PeakAvgPostSamples  int     `json:"PeakAveragePostSample"`
	RiseHighRatio       float64 `json:"RiseHighRatio"`
	RiseLowRatio        float64 `json:"RiseLowRatio"`
	DecayHighRatio      float64 `json:"DecayHighRatio"`
	DecayLowRatio       float64 `json:"DecayLowRatio"`
}

// Config is the analysis configuration document of a data folder.
// The same document, written after a successful run, is the fingerprint
// used to decide whether cached feature tables are still valid.
type Config struct {
	Readout  ReadoutConfig  `json:"Readout"`
	Analysis AnalysisConfig `json:"Analysis"`
}

func (rc *ReadoutConfig) UnmarshalJSON(p []byte) error {
	var raw struct {
		Sample    float64
		PreSample float64
		Rate      float64
	}
	err := json.Unmarshal(p, &raw)
	if err != nil {
		return err
	}

	var cnv converter
	rc.SampleCount = cnv.count("Sample", raw.Sample)
	rc.PreSampleCount = cnv.count("PreSample", raw.PreSample)
	rc.SampleRate = raw.Rate
	return cnv.err
}

func (ac *AnalysisConfig) UnmarshalJSON(p []byte) error {
	var raw struct {
		CutoffFrequency       float64
		BaseLinePreSample     float64
		BaseLinePostSample    float64
		PeakSearchSample      float64
		PeakAveragePreSample  float64
		PeakAveragePostSample float64
		RiseHighRatio         float64
		RiseLowRatio          float64
		DecayHighRatio        float64
		DecayLowRatio         float64
	}
	err := json.Unmarshal(p, &raw)
	if err != nil {
		return err
	}

	var cnv converter
	ac.CutoffFrequency = raw.CutoffFrequency
	ac.BaselinePreSamples = cnv.count("BaseLinePreSample", raw.BaseLinePreSample)
	ac.BaselinePostSamples = cnv.count("BaseLinePostSample", raw.BaseLinePostSample)
	ac.PeakSearchSamples = cnv.count("PeakSearchSample", raw.PeakSearchSample)
	ac.PeakAvgPreSamples = cnv.count("PeakAveragePreSample", raw.PeakAveragePreSample)
	ac.PeakAvgPostSamples = cnv.count("PeakAveragePostSample", raw.PeakAveragePostSample)
	ac.RiseHighRatio = raw.RiseHighRatio
	ac.RiseLowRatio = raw.RiseLowRatio
	ac.DecayHighRatio = raw.DecayHighRatio
	ac.DecayLowRatio = raw.DecayLowRatio
	return cnv.err
}

// converter turns JSON numbers into sample counts, keeping the first error.
type converter struct {
	err error
}

// count truncates v toward zero. Negative, NaN and values that do not fit
// in an unsigned 32-bit integer are rejected.
func (cnv *converter) count(name string, v float64) int {
	if cnv.err != nil {
		return 0
	}
	if math.IsNaN(v) || v < 0 || v > math.MaxUint32 {
		cnv.err = xerrors.Errorf("pulse: field %s out of range (got=%v): %w", name, v, ErrConfig)
		return 0
	}
	return int(math.Trunc(v))
}

// Validate checks the invariants the feature extraction relies upon.
func (cfg Config) Validate() error {
	var (
		rc = cfg.Readout
		ac = cfg.Analysis
	)

	switch {
	case rc.PreSampleCount < 0 || rc.SampleCount <= rc.PreSampleCount:
		return xerrors.Errorf(
			"pulse: invalid readout samples (sample=%d, pre-sample=%d): %w",
			rc.SampleCount, rc.PreSampleCount, ErrConfig,
		)
	case !(rc.SampleRate > 0) || math.IsInf(rc.SampleRate, 0):
		return xerrors.Errorf("pulse: invalid sampling rate %v: %w", rc.SampleRate, ErrConfig)
	case !(ac.CutoffFrequency > 0) || ac.CutoffFrequency >= rc.SampleRate/2:
		return xerrors.Errorf(
			"pulse: cutoff frequency %v outside (0, %v): %w",
			ac.CutoffFrequency, rc.SampleRate/2, ErrConfig,
		)
	case ac.BaselinePreSamples < 1:
		return xerrors.Errorf("pulse: empty baseline window: %w", ErrConfig)
	case rc.PreSampleCount/2-ac.BaselinePreSamples < 0:
		return xerrors.Errorf(
			"pulse: baseline window starts before first sample (pre-sample=%d, baseline=%d): %w",
			rc.PreSampleCount, ac.BaselinePreSamples, ErrConfig,
		)
	case ac.BaselinePostSamples < 0:
		return xerrors.Errorf("pulse: negative baseline post-samples: %w", ErrConfig)
	case ac.PeakSearchSamples < 1:
		return xerrors.Errorf("pulse: empty peak search window: %w", ErrConfig)
	case ac.PeakAvgPreSamples < 0 || ac.PeakAvgPostSamples < 0 ||
		ac.PeakAvgPreSamples+ac.PeakAvgPostSamples < 1:
		return xerrors.Errorf(
			"pulse: invalid peak average window (pre=%d, post=%d): %w",
			ac.PeakAvgPreSamples, ac.PeakAvgPostSamples, ErrConfig,
		)
	}

	for _, r := range []struct {
		name      string
		high, low float64
	}{
		{"rise", ac.RiseHighRatio, ac.RiseLowRatio},
		{"decay", ac.DecayHighRatio, ac.DecayLowRatio},
	} {
		if !inUnit(r.high) || !inUnit(r.low) || r.low > r.high {
			return xerrors.Errorf(
				"pulse: invalid %s ratios (high=%v, low=%v): %w",
				r.name, r.high, r.low, ErrConfig,
			)
		}
	}

	return nil
}

func inUnit(v float64) bool { return 0 <= v && v <= 1 }

// LoadConfig reads and validates the configuration document fname.
func LoadConfig(fname string) (Config, error) {
	cfg, err := readConfig(fname)
	if err != nil {
		return cfg, err
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, xerrors.Errorf("pulse: invalid config %q: %w", fname, err)
	}

	return cfg, nil
}

func readConfig(fname string) (Config, error) {
	var cfg Config

	f, err := os.Open(fname)
	if err != nil {
		return cfg, xerrors.Errorf("pulse: could not open config: %w", err)
	}
	defer f.Close()

	err = json.NewDecoder(f).Decode(&cfg)
	if err != nil {
		if errors.Is(err, ErrConfig) {
			return cfg, xerrors.Errorf("pulse: could not decode %q: %w", fname, err)
		}
		return cfg, xerrors.Errorf("pulse: could not decode %q (%v): %w", fname, err, ErrFormat)
	}

	return cfg, nil
}

// SaveConfig writes cfg to fname, overwriting any previous content.
func SaveConfig(fname string, cfg Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return xerrors.Errorf("pulse: could not encode config: %w", err)
	}
	raw = append(raw, '\n')

	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		return xerrors.Errorf("pulse: could not write config: %w", err)
	}
	return nil
}
