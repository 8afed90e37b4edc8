// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"github.com/aurasync/aurasync/internal/beacon"
	"github.com/aurasync/aurasync/internal/listener"
	"github.com/aurasync/aurasync/internal/registry"
	"github.com/aurasync/aurasync/internal/slogutil"
	"github.com/aurasync/aurasync/internal/watcher"
)

type CLI struct {
	SyncRoot       string        `env:"AURASYNC_ROOT" default:"./AuraSync" help:"Directory kept in sync with the peer."`
	Listen         string        `env:"AURASYNC_LISTEN" default:"0.0.0.0:9999" help:"TCP listen address for peer connections."`
	BeaconPort     int           `env:"AURASYNC_BEACON_PORT" default:"8888" help:"UDP port for LAN discovery broadcasts."`
	BeaconInterval time.Duration `env:"AURASYNC_BEACON_INTERVAL" default:"3s" help:"Interval between discovery broadcasts."`
	MetricsListen  string        `env:"AURASYNC_METRICS_LISTEN" help:"Optional listen address for the Prometheus endpoint."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("aurasync"),
		kong.Description("Bidirectional file synchronization engine with LAN discovery."))

	if err := run(&cli); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Engine failed", slogutil.Error(err))
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	if err := os.MkdirAll(cli.SyncRoot, 0o755); err != nil {
		return err
	}
	root, err := filepath.Abs(cli.SyncRoot)
	if err != nil {
		return err
	}
	slog.Info("Engine started", slogutil.FilePath(root))

	reg := registry.New()
	w := watcher.New(root)

	main := suture.NewSimple("main")
	main.Add(beacon.NewBroadcaster(cli.BeaconPort, cli.BeaconInterval))
	main.Add(w)
	main.Add(listener.New(cli.Listen, root, reg, w.Events()))

	if cli.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cli.MetricsListen, mux); err != nil {
				slog.Warn("Metrics endpoint failed", slogutil.Error(err))
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return main.Serve(ctx)
}
