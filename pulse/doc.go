// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pulse extracts timing and amplitude features from TES pulse
// captures.
//
// A data folder holds a PulseConfig.json configuration and one
// CH<n>_pulse folder per channel:
//
//	run-042/
//	├── PulseConfig.json
//	├── .PulseConfig.json          configuration of the last complete run
//	├── CH1_pulse/
//	│   ├── Info.csv               features, one row per pulse
//	│   └── rawdata/
//	│       ├── CH1_1.dat
//	│       └── CH1_2.dat
//	└── CH2_pulse/
//	    └── rawdata/
//
// Each capture is low-pass filtered forward and backward with a Bessel
// section before its features are extracted. Batches of captures are
// processed concurrently; a Session caches the resulting feature tables
// and recomputes them only when the configuration changed.
package pulse // import "github.com/go-lpc/tes/pulse"
