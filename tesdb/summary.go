// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tesdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-lpc/tes/pulse"
	"gonum.org/v1/gonum/stat"
)

// RunSummary describes the analysis of one channel.
type RunSummary struct {
	Channel uint32
	Date    time.Time
	Folder  string // data folder

	Pulses  int // number of pulses with features
	Dropped int // number of pulses left out

	// Means over the analysed pulses.
	PeakAverage float64
	RiseTime    float64 // in seconds
	DecayTime   float64 // in seconds

	Config string // JSON configuration used for the analysis
}

// NewRunSummary summarizes the features of channel ch.
// rep is the zero Report for channels loaded from the cache.
func NewRunSummary(dir string, cfg pulse.Config, ch uint32, tbl pulse.Table, rep pulse.Report) (RunSummary, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return RunSummary{}, fmt.Errorf("tesdb: could not encode config: %w", err)
	}

	sum := RunSummary{
		Channel: ch,
		Date:    time.Now().UTC().Truncate(time.Second),
		Folder:  dir,
		Pulses:  len(tbl),
		Dropped: len(rep.Dropped),
		Config:  string(raw),
	}
	if len(tbl) == 0 {
		return sum, nil
	}

	var (
		keys = tbl.Keys()
		pa   = make([]float64, len(keys))
		rise = make([]float64, len(keys))
		dec  = make([]float64, len(keys))
	)
	for i, k := range keys {
		v := tbl[k]
		pa[i] = v.PeakAverage
		rise[i] = v.RiseTime
		dec[i] = v.DecayTime
	}
	sum.PeakAverage = stat.Mean(pa, nil)
	sum.RiseTime = stat.Mean(rise, nil)
	sum.DecayTime = stat.Mean(dec, nil)

	return sum, nil
}

func (sum RunSummary) String() string {
	return fmt.Sprintf(
		"CH%d: pulses=%d dropped=%d <peak>=%g <rise>=%gs <decay>=%gs",
		sum.Channel, sum.Pulses, sum.Dropped,
		sum.PeakAverage, sum.RiseTime, sum.DecayTime,
	)
}
