// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opInsert = "insert"
	opRemove = "remove"
	opGet    = "get"
)

var metricOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aurasync",
	Subsystem: "registry",
	Name:      "operations_total",
}, []string{"op"})

func init() {
	metricOperations.WithLabelValues(opInsert)
	metricOperations.WithLabelValues(opRemove)
	metricOperations.WithLabelValues(opGet)
}
