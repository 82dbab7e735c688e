// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

// Names of the files a session reads and writes.
const (
	ConfigName      = "PulseConfig.json"  // active configuration, in the data folder
	FingerprintName = ".PulseConfig.json" // configuration of the last successful run
	TableName       = "Info.csv"          // feature table, in each channel folder
)

// State is the processing state of a channel.
type State uint8

const (
	Pending State = iota
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Option configures a Session.
type Option func(*options)

type options struct {
	msg      *log.Logger
	reset    bool
	designer Designer
	workers  int
	interval time.Duration
}

func newOptions() options {
	return options{
		msg:      log.New(os.Stdout, "pulse: ", 0),
		designer: BesselDesigner{Norm: PhaseNorm},
	}
}

// WithLogger sets the logger of the session.
func WithLogger(msg *log.Logger) Option {
	return func(opts *options) {
		opts.msg = msg
	}
}

// WithReset forces the recomputation of every channel, whatever the
// state of the cache.
func WithReset(reset bool) Option {
	return func(opts *options) {
		opts.reset = reset
	}
}

// WithDesigner sets the low-pass filter designer.
func WithDesigner(d Designer) Option {
	return func(opts *options) {
		opts.designer = d
	}
}

// WithWorkers sets the number of workers used to process a channel.
func WithWorkers(n int) Option {
	return func(opts *options) {
		opts.workers = n
	}
}

// WithInterval sets the period of the intra-channel progress reports.
func WithInterval(d time.Duration) Option {
	return func(opts *options) {
		opts.interval = d
	}
}

// Summary describes the state of the cache of a data folder.
type Summary struct {
	Channels      []uint32 // all channels, in increasing order
	Fresh         []uint32 // channels whose cached table will be reused
	Stale         []uint32 // channels that will be recomputed
	ConfigChanged bool     // configuration differs from the last run's
}

// Cached reports whether no channel needs recomputation.
func (sum Summary) Cached() bool { return len(sum.Stale) == 0 }

func (sum Summary) String() string {
	if sum.Cached() {
		return "perfect"
	}
	return "lacking"
}

// Session analyzes the pulses of one data folder.
//
// A data folder holds the configuration document and one CH<n>_pulse
// directory per channel. Feature tables are cached in each channel
// directory and reused as long as the configuration does not change.
//
// A Session is not safe for concurrent use.
type Session struct {
	msg  *log.Logger
	dir  string
	opts options
	load func(fname string) ([]float64, error)

	prepared bool
	cfg      Config
	sum      Summary
	fresh    map[uint32]bool
	state    map[uint32]State
	tables   map[uint32]Table
	reports  map[uint32]Report
}

// NewSession creates a session for the data folder dir.
func NewSession(dir string, opts ...Option) *Session {
	cfg := newOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(os.Stdout, "pulse: ", 0)
	}

	return &Session{
		msg:  cfg.msg,
		dir:  dir,
		opts: cfg,
		load: LoadWaveform,
	}
}

// Dir returns the data folder of the session.
func (s *Session) Dir() string { return s.dir }

// Config returns the active configuration, as loaded by Prepare.
func (s *Session) Config() Config { return s.cfg }

// Prepare loads the configuration, discovers the channels and decides which
// of them need recomputation. Nothing is computed.
func (s *Session) Prepare() (Summary, error) {
	cfg, err := LoadConfig(filepath.Join(s.dir, ConfigName))
	if err != nil {
		return Summary{}, xerrors.Errorf("pulse: could not prepare %q: %w", s.dir, err)
	}

	chans, err := discoverChannels(s.dir)
	if err != nil {
		return Summary{}, xerrors.Errorf("pulse: could not prepare %q: %w", s.dir, err)
	}
	if len(chans) == 0 {
		return Summary{}, xerrors.Errorf("pulse: no CH<n>_pulse channel directory in %q", s.dir)
	}

	sum := Summary{
		Channels:      chans,
		ConfigChanged: s.configChanged(cfg),
	}

	s.fresh = make(map[uint32]bool, len(chans))
	s.state = make(map[uint32]State, len(chans))
	s.tables = make(map[uint32]Table, len(chans))
	s.reports = make(map[uint32]Report)

	for _, ch := range chans {
		s.state[ch] = Pending
		fresh := !sum.ConfigChanged && !s.opts.reset && exists(s.tablePath(ch))
		s.fresh[ch] = fresh
		if fresh {
			sum.Fresh = append(sum.Fresh, ch)
			continue
		}
		sum.Stale = append(sum.Stale, ch)
	}

	s.cfg = cfg
	s.sum = sum
	s.prepared = true

	return sum, nil
}

// configChanged compares cfg with the fingerprint of the last run.
// A missing or unreadable fingerprint counts as a change.
func (s *Session) configChanged(cfg Config) bool {
	fp, err := readConfig(filepath.Join(s.dir, FingerprintName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.msg.Printf("could not read fingerprint, recomputing everything: %+v", err)
		}
		return true
	}
	return fp != cfg
}

// Run processes all channels, in increasing order.
//
// onChannel is called with done=0 before the first channel and after each
// completed channel. onProgress receives the intra-channel progress of
// recomputed channels and 100 for channels loaded from the cache.
// Either callback may be nil.
//
// Run stops at the first failing channel. When some channel is stale, the
// fingerprint of the previous run is removed before any table is rewritten
// and a new one is only written once every channel is done.
func (s *Session) Run(onChannel func(done, total int, ch uint32), onProgress func(percent int, ch uint32)) error {
	if !s.prepared {
		return xerrors.Errorf("pulse: session %q was not prepared", s.dir)
	}
	if onChannel == nil {
		onChannel = func(int, int, uint32) {}
	}
	if onProgress == nil {
		onProgress = func(int, uint32) {}
	}

	var (
		rc = s.cfg.Readout
		ac = s.cfg.Analysis
	)
	coeffs, err := s.opts.designer.Design(rc.SampleRate, ac.CutoffFrequency)
	if err != nil {
		return xerrors.Errorf("pulse: could not design filter: %w", err)
	}
	err = coeffs.Validate()
	if err != nil {
		return xerrors.Errorf("pulse: invalid filter: %w", err)
	}

	// tables rewritten under the active configuration must not be vouched
	// for by the fingerprint of a previous run, should this run fail.
	fprint := filepath.Join(s.dir, FingerprintName)
	if len(s.sum.Stale) > 0 {
		err = os.Remove(fprint)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return xerrors.Errorf("pulse: could not invalidate fingerprint: %w", err)
		}
	}

	chans := s.sum.Channels
	total := len(chans)
	onChannel(0, total, chans[0])

	for i, ch := range chans {
		s.state[ch] = Running
		err := s.runChannel(ch, coeffs, onProgress)
		if err != nil {
			s.state[ch] = Failed
			return xerrors.Errorf("pulse: could not analyze channel %d: %w", ch, err)
		}
		s.state[ch] = Done
		onChannel(i+1, total, ch)
	}

	err = SaveConfig(fprint, s.cfg)
	if err != nil {
		return xerrors.Errorf("pulse: could not write fingerprint: %w", err)
	}

	// every table on disk now matches the active configuration.
	for _, ch := range chans {
		s.fresh[ch] = true
	}
	s.sum.Fresh = append([]uint32(nil), chans...)
	s.sum.Stale = nil
	s.sum.ConfigChanged = false
	s.opts.reset = false

	return nil
}

func (s *Session) runChannel(ch uint32, coeffs Coefficients, onProgress func(int, uint32)) error {
	fname := s.tablePath(ch)
	if s.fresh[ch] {
		tbl, err := LoadTable(fname)
		if err != nil {
			return err
		}
		s.tables[ch] = tbl
		onProgress(100, ch)
		return nil
	}

	files, err := ListPulseFiles(s.dir, ch)
	if err != nil {
		return err
	}

	start := time.Now()
	tbl, rep, err := RunBatch(files, coeffs, s.cfg, BatchOptions{
		Workers:  s.opts.workers,
		Interval: s.opts.interval,
		Progress: func(percent int) { onProgress(percent, ch) },
		Load:     s.load,
	})
	if err != nil {
		return err
	}
	s.reports[ch] = rep

	if n := len(rep.Dropped); n > 0 {
		s.msg.Printf("channel %d: dropped %d/%d pulses %v", ch, n, rep.Total, rep.Reasons())
	}
	s.msg.Printf("channel %d: %d pulses analyzed in %v", ch, rep.Processed, time.Since(start).Round(time.Millisecond))

	err = SaveTable(fname, tbl)
	if err != nil {
		return err
	}
	s.tables[ch] = tbl

	return nil
}

// Features returns the feature table of channel ch.
// Tables of fresh channels are read from the cache when needed.
func (s *Session) Features(ch uint32) (Table, error) {
	if tbl, ok := s.tables[ch]; ok {
		return tbl, nil
	}
	if !s.fresh[ch] {
		return nil, xerrors.Errorf("pulse: no features for channel %d", ch)
	}

	tbl, err := LoadTable(s.tablePath(ch))
	if err != nil {
		return nil, xerrors.Errorf("pulse: could not load features of channel %d: %w", ch, err)
	}
	s.tables[ch] = tbl
	return tbl, nil
}

// Reports returns the batch reports of the channels recomputed by Run.
func (s *Session) Reports() map[uint32]Report {
	o := make(map[uint32]Report, len(s.reports))
	for k, v := range s.reports {
		o[k] = v
	}
	return o
}

// State returns the processing state of channel ch.
// Unknown channels are reported as Pending.
func (s *Session) State(ch uint32) State {
	return s.state[ch]
}

// Inspection is the detailed analysis of a single pulse.
type Inspection struct {
	File        PulseFile
	Raw         []float64 // waveform as read from disk
	Filtered    []float64 // filtered, baseline-subtracted waveform
	Features    Features
	Diagnostics Diagnostics
}

// Inspect analyzes pulse id of channel ch and returns all its intermediate
// values. On an analysis failure, the partially filled inspection is
// returned together with the error.
func (s *Session) Inspect(ch, id uint32) (Inspection, error) {
	var ins Inspection
	if !s.prepared {
		return ins, xerrors.Errorf("pulse: session %q was not prepared", s.dir)
	}

	files, err := ListPulseFiles(s.dir, ch)
	if err != nil {
		return ins, err
	}
	i := sort.Search(len(files), func(i int) bool { return files[i].ID >= id })
	if i == len(files) || files[i].ID != id {
		return ins, xerrors.Errorf("pulse: no pulse %d in channel %d: %w", id, ch, fs.ErrNotExist)
	}
	ins.File = files[i]

	var (
		rc = s.cfg.Readout
		ac = s.cfg.Analysis
	)
	coeffs, err := s.opts.designer.Design(rc.SampleRate, ac.CutoffFrequency)
	if err != nil {
		return ins, xerrors.Errorf("pulse: could not design filter: %w", err)
	}

	ins.Raw, err = s.load(ins.File.Path)
	if err != nil {
		return ins, err
	}

	ins.Filtered = Filtfilt(coeffs, append([]float64(nil), ins.Raw...))
	ins.Features, ins.Diagnostics, err = Extract(rc, ac, ins.Filtered)
	if err != nil {
		return ins, xerrors.Errorf("pulse: could not analyze pulse %d of channel %d: %w", id, ch, err)
	}

	return ins, nil
}

func (s *Session) tablePath(ch uint32) string {
	return filepath.Join(ChannelDir(s.dir, ch), TableName)
}

// channelName only matches canonical channel numbers, so that a discovered
// folder is the one ChannelDir rebuilds.
var channelName = regexp.MustCompile(`^CH(0|[1-9]\d*)_pulse$`)

// discoverChannels lists the channel directories of dir.
func discoverChannels(dir string) ([]uint32, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("pulse: could not list channels: %w", err)
	}

	var chans []uint32
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		m := channelName.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		ch, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		chans = append(chans, uint32(ch))
	}
	sort.Slice(chans, func(i, j int) bool { return chans[i] < chans[j] })

	return chans, nil
}

func exists(fname string) bool {
	_, err := os.Stat(fname)
	return err == nil
}
