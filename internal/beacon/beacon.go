// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package beacon announces engine presence on the LAN so peers can find us
// without configuration.
package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/aurasync/aurasync/internal/slogutil"
)

const (
	// Payload is the fixed announcement, 25 ASCII bytes. Peers match it
	// verbatim.
	Payload = "AuraSync Engine Discovery"

	DefaultPort     = 8888
	DefaultInterval = 3 * time.Second
)

// Broadcaster periodically sends the discovery payload to the IPv4
// broadcast address. Sends are best effort: failures are logged at debug
// level and the loop carries on for the process lifetime.
type Broadcaster struct {
	port     int
	interval time.Duration
	dst      net.Addr
}

func NewBroadcaster(port int, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		port:     port,
		interval: interval,
		dst:      &net.UDPAddr{IP: net.IPv4bcast, Port: port},
	}
}

func (b *Broadcaster) String() string {
	return fmt.Sprintf("beacon.Broadcaster@%p", b)
}

func (b *Broadcaster) Serve(ctx context.Context) error {
	conn, err := listenBroadcast(ctx, b.port)
	if err != nil {
		return fmt.Errorf("bind beacon socket: %w", err)
	}
	defer conn.Close()

	slog.Info("Broadcasting discovery beacon", slogutil.Address(b.dst), slog.Duration("interval", b.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := conn.WriteTo([]byte(Payload), b.dst); err != nil {
			slog.Debug("Beacon send failed", slogutil.Error(err))
		}
		timer.Reset(b.interval)
	}
}
