// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watcher bridges the OS file notification API into a bounded
// channel consumed by the connection session. The producer blocks when the
// channel is full; that backpressure is the ordering guarantee for local
// events queued during an inbound transfer.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/aurasync/aurasync/internal/slogutil"
)

// ChannelCapacity is the bound on queued, unprocessed watcher events.
const ChannelCapacity = 100

// Kind classifies a filesystem change. Ambiguous OS kinds collapse to
// Modify; a rename reported for the old name counts as a removal, since
// nothing remains at that path.
type Kind int

const (
	KindModify Kind = iota
	KindCreate
	KindRemove
)

func (k Kind) IsCreate() bool { return k == KindCreate }
func (k Kind) IsRemove() bool { return k == KindRemove }
func (k Kind) IsModify() bool { return k == KindModify }

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindRemove:
		return "remove"
	default:
		return "modify"
	}
}

// Event is one observed change, carrying the absolute path it concerns.
type Event struct {
	Path string
	Kind Kind
}

// Service owns the recursive watch over the sync root and produces events
// into the channel returned by Events. The channel is created once and
// survives service restarts.
type Service struct {
	root   string
	events chan Event
}

func New(root string) *Service {
	return &Service{
		root:   root,
		events: make(chan Event, ChannelCapacity),
	}
}

// Events returns the receive side of the bounded event channel. There must
// be a single consumer, the active session.
func (s *Service) Events() <-chan Event {
	return s.events
}

func (s *Service) String() string {
	return fmt.Sprintf("watcher.Service@%p", s)
}

func (s *Service) Serve(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addRecursive(w, s.root); err != nil {
		return fmt.Errorf("watch %s: %w", s.root, err)
	}
	slog.Info("Watching for changes", slogutil.FilePath(s.root))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", slogutil.Error(err))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			out, forward := s.classify(w, ev)
			if !forward {
				continue
			}
			slog.Debug("Watcher event", slogutil.FilePath(out.Path), slog.String("kind", out.Kind.String()))
			select {
			case s.events <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// classify maps an fsnotify event onto our kinds. Newly created
// directories are registered for watching and not forwarded; everything
// else passes through.
func (s *Service) classify(w *fsnotify.Watcher, ev fsnotify.Event) (Event, bool) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if fi, err := os.Lstat(ev.Name); err == nil && fi.IsDir() {
			if err := addRecursive(w, ev.Name); err != nil {
				slog.Warn("Cannot watch new directory", slogutil.FilePath(ev.Name), slogutil.Error(err))
			}
			return Event{}, false
		}
		return Event{Path: ev.Name, Kind: KindCreate}, true
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		return Event{Path: ev.Name, Kind: KindRemove}, true
	default:
		return Event{Path: ev.Name, Kind: KindModify}, true
	}
}

// addRecursive registers root and every directory below it. fsnotify
// watches are not recursive, so new subtrees are added as their create
// events arrive.
func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
