// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"encoding/binary"
	"math"

	"github.com/go-lpc/tes/internal/mmap"
	"golang.org/x/xerrors"
)

const (
	hdrSize    = 4 // instrument framing, ignored
	sampleSize = 8 // little-endian IEEE-754 float64
)

// LoadWaveform reads one binary pulse capture.
func LoadWaveform(fname string) ([]float64, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, xerrors.Errorf("pulse: could not load waveform: %w", err)
	}
	defer h.Close()

	wf, err := DecodeWaveform(h.Bytes())
	if err != nil {
		return nil, xerrors.Errorf("pulse: could not decode %q: %w", fname, err)
	}

	return wf, nil
}

// DecodeWaveform decodes the content of a capture file: a 4-byte header
// followed by little-endian float64 samples.
// The returned slice does not alias raw.
func DecodeWaveform(raw []byte) ([]float64, error) {
	if len(raw) < hdrSize {
		return nil, xerrors.Errorf(
			"pulse: missing capture header (got=%d bytes, want>=%d): %w",
			len(raw), hdrSize, ErrFormat,
		)
	}
	raw = raw[hdrSize:]

	if len(raw)%sampleSize != 0 {
		return nil, xerrors.Errorf(
			"pulse: payload of %d bytes is not a multiple of %d: %w",
			len(raw), sampleSize, ErrFormat,
		)
	}

	wf := make([]float64, len(raw)/sampleSize)
	for i := range wf {
		beg := i * sampleSize
		wf[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[beg : beg+sampleSize]))
	}

	return wf, nil
}

// EncodeWaveform is the inverse of DecodeWaveform.
// The header bytes are written as zeros.
func EncodeWaveform(wf []float64) []byte {
	raw := make([]byte, hdrSize+len(wf)*sampleSize)
	for i, v := range wf {
		beg := hdrSize + i*sampleSize
		binary.LittleEndian.PutUint64(raw[beg:beg+sampleSize], math.Float64bits(v))
	}
	return raw
}
