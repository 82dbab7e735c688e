// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tes holds code for the analysis of TES pulse captures.
//
// The feature extraction pipeline lives in package pulse, run summaries
// are recorded by package tesdb and cmd/tes-pulse drives a whole data folder.
package tes // import "github.com/go-lpc/tes"

import (
	"runtime/debug"
)

// Version returns the version of tes and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/tes"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			if m.Replace.Version == "" {
				return m.Version + "*", ""
			}
			return m.Replace.Version, m.Replace.Sum
		}
		return m.Version, m.Sum
	}
	return "", ""
}
