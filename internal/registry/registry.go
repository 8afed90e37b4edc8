// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package registry holds the process-wide mapping from normalized relative
// path to the last known content digest. It is the echo suppression
// oracle: a watcher event whose digest matches the stored one is our own
// mutation being observed and must not be re-sent.
package registry

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// A Registry maps normalized paths (no leading slash, forward slash
// separated) to lowercase hex digests. It tolerates concurrent use from
// the inbound and outbound halves of a session without external locking,
// and outlives any one connection.
type Registry struct {
	m *xsync.MapOf[string, string]
}

func New() *Registry {
	return &Registry{m: xsync.NewMapOf[string, string]()}
}

// Insert records digest as the last known content of path, overwriting any
// prior entry.
func (r *Registry) Insert(path, digest string) {
	r.m.Store(path, digest)
	metricOperations.WithLabelValues(opInsert).Inc()
}

// Remove drops the entry for path, returning the previous digest if one
// existed.
func (r *Registry) Remove(path string) (string, bool) {
	digest, ok := r.m.LoadAndDelete(path)
	metricOperations.WithLabelValues(opRemove).Inc()
	return digest, ok
}

// Get returns the stored digest for path. The value is a snapshot and may
// be stale the instant it is returned.
func (r *Registry) Get(path string) (string, bool) {
	digest, ok := r.m.Load(path)
	metricOperations.WithLabelValues(opGet).Inc()
	return digest, ok
}

// Size returns the number of tracked paths.
func (r *Registry) Size() int {
	return r.m.Size()
}
