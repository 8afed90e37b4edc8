// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ignore excludes scratch and metadata files from synchronization.
package ignore

import (
	"path/filepath"

	"github.com/gobwas/glob"
)

// The fixed pattern set: hidden files (which covers .DS_Store), temporary
// and backup files, and the Windows folder metadata files. Patterns match
// the basename only and are anchored at both ends.
var defaultPatterns = []string{
	".*",
	"*.tmp",
	"*~",
	"Thumbs.db",
	"Desktop.ini",
}

type Matcher struct {
	patterns []glob.Glob
}

func NewMatcher() *Matcher {
	m := &Matcher{}
	for _, p := range defaultPatterns {
		m.patterns = append(m.patterns, glob.MustCompile(p))
	}
	return m
}

// Match reports whether the final segment of path matches any ignore
// pattern. Directory components are not considered.
func (m *Matcher) Match(path string) bool {
	name := filepath.Base(path)
	for _, p := range m.patterns {
		if p.Match(name) {
			return true
		}
	}
	return false
}
