// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package listener accepts peer connections, one at a time, and runs a
// session over each. The watcher channel is handed to the active session
// only; when the session ends the listener returns to accept.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/aurasync/aurasync/internal/ignore"
	"github.com/aurasync/aurasync/internal/registry"
	"github.com/aurasync/aurasync/internal/session"
	"github.com/aurasync/aurasync/internal/slogutil"
	"github.com/aurasync/aurasync/internal/watcher"
)

type Service struct {
	addr     string
	root     string
	registry *registry.Registry
	events   <-chan watcher.Event
	matcher  *ignore.Matcher

	listenAddr atomic.Value // net.Addr, set once listening
}

func New(addr, root string, reg *registry.Registry, events <-chan watcher.Event) *Service {
	return &Service{
		addr:     addr,
		root:     root,
		registry: reg,
		events:   events,
		matcher:  ignore.NewMatcher(),
	}
}

func (s *Service) String() string {
	return fmt.Sprintf("listener.Service(%s)", s.addr)
}

// Addr returns the bound address once Serve is listening, nil before.
func (s *Service) Addr() net.Addr {
	addr, _ := s.listenAddr.Load().(net.Addr)
	return addr
}

func (s *Service) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	defer ln.Close()
	s.listenAddr.Store(ln.Addr())
	slog.Info("Listening for peer", slogutil.Address(ln.Addr()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		metricConnections.Inc()
		slog.Info("Peer connected", slogutil.Address(conn.RemoteAddr()))

		sess := session.New(conn, s.events, s.root, s.registry, s.matcher)
		if err := sess.Run(ctx); err != nil {
			slog.Warn("Session ended", slogutil.Error(err))
		} else {
			slog.Info("Session ended")
		}
	}
}
