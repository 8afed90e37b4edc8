// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dirInbound  = "inbound"
	dirOutbound = "outbound"

	resClosed = "closed"
	resError  = "error"
)

var (
	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurasync",
		Subsystem: "session",
		Name:      "frames_total",
	}, []string{"direction"})
	metricSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurasync",
		Subsystem: "session",
		Name:      "sessions_total",
	}, []string{"result"})
)

func init() {
	metricFrames.WithLabelValues(dirInbound)
	metricFrames.WithLabelValues(dirOutbound)
	metricSessions.WithLabelValues(resClosed)
	metricSessions.WithLabelValues(resError)
}
