// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

const scenarioJSON = `{
  "Readout": {"Sample": 1000.9, "PreSample": 200, "Rate": 1e6},
  "Analysis": {
    "CutoffFrequency": 100000,
    "BaseLinePreSample": 20.5,
    "BaseLinePostSample": 20,
    "PeakSearchSample": 100,
    "PeakAveragePreSample": 5,
    "PeakAveragePostSample": 5,
    "RiseHighRatio": 0.8,
    "RiseLowRatio": 0.2,
    "DecayHighRatio": 0.8,
    "DecayLowRatio": 0.2
  }
}`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	for _, tc := range []struct {
		name string
		raw  string
		want error
	}{
		{
			name: "scenario",
			raw:  scenarioJSON,
		},
		{
			name: "negative-count",
			raw:  `{"Readout": {"Sample": -1000, "PreSample": 200, "Rate": 1e6}}`,
			want: ErrConfig,
		},
		{
			name: "overflow-count",
			raw:  `{"Readout": {"Sample": 1e12, "PreSample": 200, "Rate": 1e6}}`,
			want: ErrConfig,
		},
		{
			name: "string-count",
			raw:  `{"Readout": {"Sample": "1000", "PreSample": 200, "Rate": 1e6}}`,
			want: ErrFormat,
		},
		{
			name: "not-json",
			raw:  `Readout: 1000`,
			want: ErrFormat,
		},
		{
			name: "invalid",
			raw:  `{"Readout": {"Sample": 100, "PreSample": 200, "Rate": 1e6}}`,
			want: ErrConfig,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(dir, tc.name+".json")
			writeFile(t, fname, []byte(tc.raw))

			cfg, err := LoadConfig(fname)
			switch {
			case tc.want != nil:
				if !errors.Is(err, tc.want) {
					t.Fatalf("invalid error: got=%+v, want=%v", err, tc.want)
				}
				return
			case err != nil:
				t.Fatalf("could not load config: %+v", err)
			}

			want := scenarioConfig()
			want.Analysis.BaselinePostSamples = 20
			if cfg != want {
				t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", cfg, want)
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(dir, "missing.json"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, fs.ErrNotExist)
		}
	})
}

func TestSaveConfig(t *testing.T) {
	fname := filepath.Join(t.TempDir(), ConfigName)
	want := scenarioConfig()
	want.Analysis.BaselinePostSamples = 15

	err := SaveConfig(fname, want)
	if err != nil {
		t.Fatalf("could not save config: %+v", err)
	}

	got, err := LoadConfig(fname)
	if err != nil {
		t.Fatalf("could not reload config: %+v", err)
	}

	if got != want {
		t.Fatalf("round-trip failed:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(cfg *Config)
		ok   bool
	}{
		{
			name: "scenario",
			mod:  func(*Config) {},
			ok:   true,
		},
		{
			name: "no-post-trigger",
			mod:  func(cfg *Config) { cfg.Readout.SampleCount = cfg.Readout.PreSampleCount },
		},
		{
			name: "zero-rate",
			mod:  func(cfg *Config) { cfg.Readout.SampleRate = 0 },
		},
		{
			name: "cutoff-at-nyquist",
			mod:  func(cfg *Config) { cfg.Analysis.CutoffFrequency = cfg.Readout.SampleRate / 2 },
		},
		{
			name: "empty-baseline",
			mod:  func(cfg *Config) { cfg.Analysis.BaselinePreSamples = 0 },
		},
		{
			name: "baseline-before-start",
			mod:  func(cfg *Config) { cfg.Analysis.BaselinePreSamples = 101 },
		},
		{
			name: "baseline-at-start",
			mod:  func(cfg *Config) { cfg.Analysis.BaselinePreSamples = 100 },
			ok:   true,
		},
		{
			name: "empty-peak-search",
			mod:  func(cfg *Config) { cfg.Analysis.PeakSearchSamples = 0 },
		},
		{
			name: "empty-peak-average",
			mod: func(cfg *Config) {
				cfg.Analysis.PeakAvgPreSamples = 0
				cfg.Analysis.PeakAvgPostSamples = 0
			},
		},
		{
			name: "rise-low-above-high",
			mod:  func(cfg *Config) { cfg.Analysis.RiseLowRatio = 0.9 },
		},
		{
			name: "decay-ratio-above-one",
			mod:  func(cfg *Config) { cfg.Analysis.DecayHighRatio = 1.5 },
		},
		{
			name: "equal-ratios",
			mod: func(cfg *Config) {
				cfg.Analysis.RiseLowRatio = 0.5
				cfg.Analysis.RiseHighRatio = 0.5
			},
			ok: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := scenarioConfig()
			tc.mod(&cfg)
			err := cfg.Validate()
			switch {
			case tc.ok && err != nil:
				t.Fatalf("unexpected error: %+v", err)
			case !tc.ok && !errors.Is(err, ErrConfig):
				t.Fatalf("invalid error: got=%v, want=%v", err, ErrConfig)
			}
		})
	}
}
