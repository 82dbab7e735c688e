// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tesdb

import (
	"context"
	"database/sql/driver"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/tes/internal/fakedb"
	"github.com/go-lpc/tes/pulse"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open tesdb: %+v", err)
	}
	defer db.Close()

	if got, want := dsn("tes"), usr+":"+pwd+"@tcp("+host+")/tes?parseTime=true"; got != want {
		t.Fatalf("invalid DSN: got=%q, want=%q", got, want)
	}
}

func TestInit(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open tesdb: %+v", err)
	}
	defer db.Close()

	execs, err := fakedb.Run(context.Background(), fakedb.Rows{}, db.Init)
	if err != nil {
		t.Fatalf("could not init tesdb: %+v", err)
	}
	if len(execs) != 1 || !strings.Contains(execs[0].Query, "CREATE TABLE IF NOT EXISTS pulse_runs") {
		t.Fatalf("invalid statements: %+v", execs)
	}
}

func TestRecord(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open tesdb: %+v", err)
	}
	defer db.Close()

	date := time.Date(2020, 11, 3, 10, 20, 30, 0, time.UTC)
	sum := RunSummary{
		Channel:     2,
		Date:        date,
		Folder:      "/data/run-42",
		Pulses:      998,
		Dropped:     2,
		PeakAverage: 85,
		RiseTime:    4e-6,
		DecayTime:   5e-6,
		Config:      "{}",
	}

	execs, err := fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		return db.Record(ctx, sum)
	})
	if err != nil {
		t.Fatalf("could not record run: %+v", err)
	}

	if len(execs) != 1 {
		t.Fatalf("invalid number of statements: got=%d, want=1", len(execs))
	}
	if !strings.Contains(execs[0].Query, "INSERT INTO pulse_runs") {
		t.Fatalf("invalid statement: %q", execs[0].Query)
	}

	want := []driver.Value{
		int64(2), date, "/data/run-42",
		int64(998), int64(2),
		85.0, 4e-6, 5e-6,
		"{}",
	}
	if got := execs[0].Args; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid arguments:\ngot= %#v\nwant=%#v", got, want)
	}
}

func TestRuns(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open tesdb: %+v", err)
	}
	defer db.Close()

	var (
		d1 = time.Date(2020, 11, 3, 10, 0, 0, 0, time.UTC)
		d2 = time.Date(2020, 11, 2, 10, 0, 0, 0, time.UTC)
	)

	_, err = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{
			"channel", "datetime", "folder", "pulses", "dropped",
			"peak_average", "rise_time", "decay_time", "config",
		},
		Values: [][]driver.Value{
			{int64(1), d1, "/data/b", int64(10), int64(0), 85.0, 4e-6, 5e-6, "{}"},
			{int64(1), d2, "/data/a", int64(8), int64(2), 80.0, 3e-6, 6e-6, "{}"},
		},
	}, func(ctx context.Context) error {
		runs, err := db.Runs(ctx, 1)
		if err != nil {
			t.Fatalf("could not retrieve runs: %+v", err)
		}

		want := []RunSummary{
			{1, d1, "/data/b", 10, 0, 85, 4e-6, 5e-6, "{}"},
			{1, d2, "/data/a", 8, 2, 80, 3e-6, 6e-6, "{}"},
		}
		if !reflect.DeepEqual(runs, want) {
			t.Fatalf("invalid runs:\ngot= %+v\nwant=%+v", runs, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not run query: %+v", err)
	}
}

func TestNewRunSummary(t *testing.T) {
	tbl := pulse.Table{
		1: {PeakAverage: 80, RiseTime: 2e-6, DecayTime: 4e-6},
		2: {PeakAverage: 90, RiseTime: 4e-6, DecayTime: 6e-6},
	}
	rep := pulse.Report{
		Total:     3,
		Processed: 2,
		Dropped:   []pulse.Drop{{ID: 3, Path: "CH1_3.dat", Err: pulse.ErrTooShort}},
	}

	sum, err := NewRunSummary("/data", pulse.Config{}, 1, tbl, rep)
	if err != nil {
		t.Fatalf("could not create summary: %+v", err)
	}

	near := func(a, b float64) bool { return math.Abs(a-b) <= 1e-12*math.Abs(b) }
	switch {
	case sum.Channel != 1 || sum.Folder != "/data":
		t.Fatalf("invalid identification: %+v", sum)
	case sum.Pulses != 2 || sum.Dropped != 1:
		t.Fatalf("invalid counts: %+v", sum)
	case !near(sum.PeakAverage, 85) || !near(sum.RiseTime, 3e-6) || !near(sum.DecayTime, 5e-6):
		t.Fatalf("invalid means: %+v", sum)
	case !strings.Contains(sum.Config, `"Readout"`):
		t.Fatalf("invalid config: %q", sum.Config)
	}

	empty, err := NewRunSummary("/data", pulse.Config{}, 2, nil, pulse.Report{})
	if err != nil {
		t.Fatalf("could not create summary: %+v", err)
	}
	if empty.Pulses != 0 || empty.PeakAverage != 0 {
		t.Fatalf("invalid empty summary: %+v", empty)
	}
}
