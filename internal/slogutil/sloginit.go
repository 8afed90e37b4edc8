// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package slogutil carries the process logging conventions: slog
// throughout, level raised via the AURATRACE environment variable.
package slogutil

import (
	"log/slog"
	"os"
)

func init() {
	v := os.Getenv("AURATRACE")
	if v == "" {
		return
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("Bad log level requested in AURATRACE", slog.String("level", v), Error(err))
		return
	}
	slog.SetLogLoggerLevel(level)
}
