// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"errors"
	"io"
	"sort"

	"go-hep.org/x/hep/csvutil"
	"golang.org/x/xerrors"
)

// tableHeader is the first line of a feature table file.
const tableHeader = "key,Base,PeakAverage,PeakIndex,RiseTime,DecayTime"

// Table holds the features of one channel, indexed by pulse number.
type Table map[uint32]Features

// Keys returns the pulse numbers of the table, in increasing order.
func (tbl Table) Keys() []uint32 {
	keys := make([]uint32, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SaveTable writes tbl as CSV to fname, replacing any previous content.
// Rows are sorted by pulse number.
func SaveTable(fname string, tbl Table) (err error) {
	f, err := csvutil.Create(fname)
	if err != nil {
		return xerrors.Errorf("pulse: could not create feature table: %w", err)
	}
	defer func() {
		e := f.Close()
		if e != nil && err == nil {
			err = xerrors.Errorf("pulse: could not close feature table %q: %w", fname, e)
		}
	}()
	f.Writer.Comma = ','

	err = f.WriteHeader(tableHeader + "\n")
	if err != nil {
		return xerrors.Errorf("pulse: could not write header of %q: %w", fname, err)
	}

	for _, key := range tbl.Keys() {
		v := tbl[key]
		err = f.WriteRow(key, v.Base, v.PeakAverage, v.PeakIndex, v.RiseTime, v.DecayTime)
		if err != nil {
			return xerrors.Errorf("pulse: could not write row %d to %q: %w", key, fname, err)
		}
	}

	return nil
}

// LoadTable reads a feature table written by SaveTable.
// Loading fails on the first malformed row.
func LoadTable(fname string) (Table, error) {
	f, err := csvutil.Open(fname)
	if err != nil {
		return nil, xerrors.Errorf("pulse: could not open feature table: %w", err)
	}
	defer f.Close()
	f.Reader.Comma = ','
	f.Reader.FieldsPerRecord = 6

	rows, err := f.ReadRows(1, -1)
	if err != nil {
		return nil, xerrors.Errorf("pulse: could not read rows of %q (%v): %w", fname, err, ErrFormat)
	}
	defer rows.Close()

	tbl := make(Table)
	for i := 1; rows.Next(); i++ {
		var (
			key uint32
			v   Features
		)
		err = rows.Scan(&key, &v.Base, &v.PeakAverage, &v.PeakIndex, &v.RiseTime, &v.DecayTime)
		if err != nil {
			return nil, xerrors.Errorf(
				"pulse: could not scan row %d of %q (%v): %w",
				i, fname, err, ErrFormat,
			)
		}
		tbl[key] = v
	}

	// csvutil reports the end of an open-ended row range as io.EOF.
	err = rows.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Errorf("pulse: could not read %q (%v): %w", fname, err, ErrFormat)
	}

	return tbl, nil
}
