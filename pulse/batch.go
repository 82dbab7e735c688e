// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// PulseFile is one raw capture of a channel.
type PulseFile struct {
	ID   uint32 // pulse sequence number
	Path string
}

// Drop describes a pulse excluded from a batch.
type Drop struct {
	ID   uint32
	Path string
	Err  error
}

// Report accounts for the pulses of a batch.
type Report struct {
	Total     int    // number of capture files
	Processed int    // number of pulses with features
	Dropped   []Drop // pulses that failed to load or to be analyzed, by ID
}

// Reasons counts dropped pulses per failure class.
func (r Report) Reasons() map[string]int {
	o := make(map[string]int)
	for _, d := range r.Dropped {
		o[reason(d.Err)]++
	}
	return o
}

// BatchOptions configures RunBatch.
type BatchOptions struct {
	Workers  int           // number of workers, GOMAXPROCS when <= 0
	Interval time.Duration // progress polling interval, 1s when <= 0

	// Progress receives the percentage of processed pulses.
	// It is called from the goroutine running RunBatch and always
	// receives 100 once all workers are done.
	Progress func(percent int)

	// Load reads one capture file. LoadWaveform when nil.
	Load func(fname string) ([]float64, error)
}

func (opts *BatchOptions) defaults() {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Interval <= 0 {
		opts.Interval = 1 * time.Second
	}
	if opts.Progress == nil {
		opts.Progress = func(int) {}
	}
	if opts.Load == nil {
		opts.Load = LoadWaveform
	}
}

// RunBatch extracts the features of all files, concurrently.
// Pulses that can not be loaded or analyzed are left out of the table and
// listed in the report. RunBatch only fails when the worker pool does.
func RunBatch(files []PulseFile, coeffs Coefficients, cfg Config, opts BatchOptions) (Table, Report, error) {
	opts.defaults()

	var (
		total  = len(files)
		report = Report{Total: total}
		nwrk   = min(opts.Workers, total)

		done  atomic.Int64
		jobs  = make(chan PulseFile, total)
		parts = make([]partial, nwrk)
		grp   errgroup.Group
	)

	for _, f := range files {
		jobs <- f
	}
	close(jobs)

	for i := range parts {
		part := &parts[i]
		part.tbl = make(Table)
		grp.Go(func() error {
			for f := range jobs {
				err := part.process(f, coeffs, cfg, opts.Load)
				if err != nil {
					return err
				}
				done.Add(1)
			}
			return nil
		})
	}

	errc := make(chan error, 1)
	go func() {
		errc <- grp.Wait()
	}()

	tick := time.NewTicker(opts.Interval)
	defer tick.Stop()

	var err error
loop:
	for {
		select {
		case err = <-errc:
			break loop
		case <-tick.C:
			opts.Progress(percent(done.Load(), total))
		}
	}
	opts.Progress(100)

	if err != nil {
		return nil, report, xerrors.Errorf("pulse: could not run batch: %w", err)
	}

	tbl := make(Table, total)
	for _, part := range parts {
		for k, v := range part.tbl {
			tbl[k] = v
		}
		report.Dropped = append(report.Dropped, part.drops...)
	}
	sort.Slice(report.Dropped, func(i, j int) bool {
		return report.Dropped[i].ID < report.Dropped[j].ID
	})
	report.Processed = len(tbl)

	return tbl, report, nil
}

func percent(n int64, total int) int {
	if total <= 0 {
		return 100
	}
	return int(n * 100 / int64(total))
}

// partial is the private accumulator of one worker.
type partial struct {
	tbl   Table
	drops []Drop
}

// process analyzes one pulse. Analysis failures are recorded as drops;
// only a panic is returned as an error.
func (p *partial) process(f PulseFile, coeffs Coefficients, cfg Config, load func(string) ([]float64, error)) (err error) {
	defer func() {
		e := recover()
		if e != nil {
			err = xerrors.Errorf("pulse: worker panicked on %q: %v: %w", f.Path, e, ErrCoordination)
		}
	}()

	wf, err := load(f.Path)
	if err != nil {
		p.drops = append(p.drops, Drop{ID: f.ID, Path: f.Path, Err: err})
		return nil
	}

	feat, _, err := Extract(cfg.Readout, cfg.Analysis, Filtfilt(coeffs, wf))
	if err != nil {
		p.drops = append(p.drops, Drop{
			ID:   f.ID,
			Path: f.Path,
			Err:  xerrors.Errorf("pulse: could not analyze %q: %w", f.Path, err),
		})
		return nil
	}

	p.tbl[f.ID] = feat
	return nil
}

var pulseName = regexp.MustCompile(`^CH(0|[1-9]\d*)_(\d+)\.dat$`)

// ChannelDir returns the folder CH<ch>_pulse of channel ch in dir.
func ChannelDir(dir string, ch uint32) string {
	return filepath.Join(dir, fmt.Sprintf("CH%d_pulse", ch))
}

// ListPulseFiles lists the captures CH<ch>_<id>.dat of channel ch under
// dir/CH<ch>_pulse/rawdata, sorted by pulse number.
// Files whose name does not carry a valid pulse number are ignored; when
// several files map to the same pulse number, the first one in lexical
// order is kept.
func ListPulseFiles(dir string, ch uint32) ([]PulseFile, error) {
	raw := filepath.Join(ChannelDir(dir, ch), "rawdata")
	ents, err := os.ReadDir(raw)
	if err != nil {
		return nil, xerrors.Errorf("pulse: could not list captures of channel %d: %w", ch, err)
	}

	var (
		files = make([]PulseFile, 0, len(ents))
		seen  = make(map[uint32]struct{}, len(ents))
	)
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		m := pulseName.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		cid, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil || uint32(cid) != ch {
			continue
		}
		id, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}
		if _, dup := seen[uint32(id)]; dup {
			continue
		}
		seen[uint32(id)] = struct{}{}
		files = append(files, PulseFile{
			ID:   uint32(id),
			Path: filepath.Join(raw, ent.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}
