// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// progress records the percentages reported by a batch.
type progress struct {
	mu   sync.Mutex
	vals []int
}

func (p *progress) report(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vals = append(p.vals, percent)
}

func (p *progress) check(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.vals) == 0 {
		t.Fatalf("no progress reported")
	}
	if got, want := p.vals[len(p.vals)-1], 100; got != want {
		t.Fatalf("invalid final progress: got=%d, want=%d", got, want)
	}
	for i, v := range p.vals {
		if v < 0 || v > 100 {
			t.Fatalf("invalid progress[%d]=%d", i, v)
		}
		if i > 0 && v < p.vals[i-1] {
			t.Fatalf("progress went backward: %v", p.vals)
		}
	}
}

func TestRunBatch(t *testing.T) {
	const (
		ch      = 1
		npulses = 20
	)

	var (
		dir = t.TempDir()
		cfg = scenarioConfig()
	)
	makeFolder(t, dir, cfg, npulses, ch)

	// a truncated sample and a capture too short for the analysis windows.
	writeFile(t, pulsePath(dir, ch, 100), EncodeWaveform(trapezoid(400, 10))[:4+8*10+3])
	writeFile(t, pulsePath(dir, ch, 101), EncodeWaveform(trapezoid(250, 10)))

	files, err := ListPulseFiles(dir, ch)
	if err != nil {
		t.Fatalf("could not list pulse files: %+v", err)
	}
	if got, want := len(files), npulses+2; got != want {
		t.Fatalf("invalid number of files: got=%d, want=%d", got, want)
	}

	c, err := BesselDesigner{}.Design(cfg.Readout.SampleRate, cfg.Analysis.CutoffFrequency)
	if err != nil {
		t.Fatalf("could not design filter: %+v", err)
	}

	var tbls []Table
	for _, nwrk := range []int{1, 3, 64} {
		var prog progress
		tbl, rep, err := RunBatch(files, c, cfg, BatchOptions{
			Workers:  nwrk,
			Interval: time.Millisecond,
			Progress: prog.report,
		})
		if err != nil {
			t.Fatalf("workers=%d: could not run batch: %+v", nwrk, err)
		}
		prog.check(t)

		if got, want := rep.Total, npulses+2; got != want {
			t.Fatalf("workers=%d: invalid total: got=%d, want=%d", nwrk, got, want)
		}
		if got, want := rep.Processed, npulses; got != want {
			t.Fatalf("workers=%d: invalid processed: got=%d, want=%d", nwrk, got, want)
		}
		if got, want := len(tbl), npulses; got != want {
			t.Fatalf("workers=%d: invalid table size: got=%d, want=%d", nwrk, got, want)
		}
		if got, want := rep.Reasons(), map[string]int{"format": 1, "too-short": 1}; !reflect.DeepEqual(got, want) {
			t.Fatalf("workers=%d: invalid drops: got=%v, want=%v", nwrk, got, want)
		}
		if rep.Dropped[0].ID != 100 || rep.Dropped[1].ID != 101 {
			t.Fatalf("workers=%d: invalid dropped pulses: %+v", nwrk, rep.Dropped)
		}

		for id := uint32(1); id <= npulses; id++ {
			feat, ok := tbl[id]
			if !ok {
				t.Fatalf("workers=%d: missing pulse %d", nwrk, id)
			}
			if feat.PeakIndex < 210 || feat.PeakIndex > 249 {
				t.Fatalf("workers=%d: invalid peak index for pulse %d: %d", nwrk, id, feat.PeakIndex)
			}
		}
		tbls = append(tbls, tbl)
	}

	for i := 1; i < len(tbls); i++ {
		if !reflect.DeepEqual(tbls[i], tbls[0]) {
			t.Fatalf("batch is not idempotent")
		}
	}
}

func TestRunBatchEmpty(t *testing.T) {
	var prog progress
	tbl, rep, err := RunBatch(nil, Coefficients{}, scenarioConfig(), BatchOptions{
		Progress: prog.report,
	})
	if err != nil {
		t.Fatalf("could not run batch: %+v", err)
	}
	prog.check(t)

	if len(tbl) != 0 || rep.Total != 0 || rep.Processed != 0 || len(rep.Dropped) != 0 {
		t.Fatalf("invalid empty batch: tbl=%v, report=%+v", tbl, rep)
	}
}

func TestRunBatchPanic(t *testing.T) {
	cfg := scenarioConfig()
	files := make([]PulseFile, 10)
	for i := range files {
		files[i] = PulseFile{ID: uint32(i), Path: "pulse-" + string(rune('0'+i))}
	}

	var prog progress
	_, _, err := RunBatch(files, Coefficients{}, cfg, BatchOptions{
		Workers:  2,
		Interval: time.Millisecond,
		Progress: prog.report,
		Load: func(fname string) ([]float64, error) {
			if fname == "pulse-7" {
				panic("boom")
			}
			return trapezoid(cfg.Readout.SampleCount, 100), nil
		},
	})
	if !errors.Is(err, ErrCoordination) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrCoordination)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("panic value not reported: %v", err)
	}
	prog.check(t)
}

func TestListPulseFiles(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(ChannelDir(dir, 1), "rawdata")
	for _, name := range []string{
		"CH1_3.dat",
		"CH1_10.dat",
		"CH1_03.dat", // same pulse number as CH1_3.dat
		"CH1_x.dat",
		"CH1_99999999999.dat",
		"CH2_4.dat",
		"CH01_7.dat", // non-canonical channel number
		"CH1_5.dat.bak",
		"notes.txt",
	} {
		writeFile(t, filepath.Join(raw, name), []byte{0, 0, 0, 0})
	}

	got, err := ListPulseFiles(dir, 1)
	if err != nil {
		t.Fatalf("could not list pulse files: %+v", err)
	}

	want := []PulseFile{
		{ID: 3, Path: filepath.Join(raw, "CH1_03.dat")},
		{ID: 10, Path: filepath.Join(raw, "CH1_10.dat")},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid pulse files:\ngot= %+v\nwant=%+v", got, want)
	}

	_, err = ListPulseFiles(dir, 2)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("invalid error: got=%v, want=%v", err, fs.ErrNotExist)
	}
}
