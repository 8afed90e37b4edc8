// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session implements the per-connection synchronization engine: it
// applies inbound peer events to the sync root and ships local watcher
// events to the peer, keeping the registry coherent so neither side
// re-echoes the other's mutations.
//
// The reference design multiplexes both directions at a single suspension
// point. Here each direction runs as its own sequential loop: the inbound
// loop owns all socket reads, the outbound loop owns all socket writes.
// Inbound events still apply in arrival order, outbound frames still leave
// in watcher order, and the single writer keeps every frame's header and
// body contiguous on the wire.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aurasync/aurasync/internal/ignore"
	"github.com/aurasync/aurasync/internal/osutil"
	"github.com/aurasync/aurasync/internal/protocol"
	"github.com/aurasync/aurasync/internal/registry"
	"github.com/aurasync/aurasync/internal/scanner"
	"github.com/aurasync/aurasync/internal/slogutil"
	"github.com/aurasync/aurasync/internal/watcher"
)

// Session is the state for one accepted connection. It borrows the watcher
// channel and the registry; both outlive it.
type Session struct {
	conn     net.Conn
	events   <-chan watcher.Event
	root     string
	registry *registry.Registry
	matcher  *ignore.Matcher

	// Paths whose local disappearance we caused by applying a peer event,
	// mapped to the digest we expect the watcher removal to pop from the
	// registry. Written by the inbound loop, consumed by the outbound loop
	// to suppress delete echoes.
	pendingMut     sync.Mutex
	pendingRemoves map[string]string
}

func (s *Session) notePendingRemove(key, digest string) {
	s.pendingMut.Lock()
	s.pendingRemoves[key] = digest
	s.pendingMut.Unlock()
}

func (s *Session) takePendingRemove(key string) (string, bool) {
	s.pendingMut.Lock()
	defer s.pendingMut.Unlock()
	digest, ok := s.pendingRemoves[key]
	if ok {
		delete(s.pendingRemoves, key)
	}
	return digest, ok
}

func New(conn net.Conn, events <-chan watcher.Event, root string, reg *registry.Registry, matcher *ignore.Matcher) *Session {
	return &Session{
		conn:           conn,
		events:         events,
		root:           root,
		registry:       reg,
		matcher:        matcher,
		pendingRemoves: make(map[string]string),
	}
}

// Run pumps both directions until the peer disconnects or an unrecoverable
// I/O error occurs. A clean EOF returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- s.inboundLoop() }()
	go func() { errc <- s.outboundLoop(ctx) }()

	err := <-errc
	cancel()
	s.conn.Close()
	<-errc

	if err != nil && !errors.Is(err, context.Canceled) {
		metricSessions.WithLabelValues(resError).Inc()
		return err
	}
	metricSessions.WithLabelValues(resClosed).Inc()
	return nil
}

// inboundLoop reads frames off the socket and applies them locally, in
// arrival order.
func (s *Session) inboundLoop() error {
	fr := protocol.NewFrameReader(s.conn)
	for {
		ev, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("Peer closed connection")
				return nil
			}
			return err
		}
		slog.Debug("Received event", slog.String("event", ev.String()))
		metricFrames.WithLabelValues(dirInbound).Inc()

		if err := s.applyRemote(ev, fr); err != nil {
			return err
		}
	}
}

// applyRemote dispatches one peer event. Returned errors are fatal to the
// session (the stream can no longer be trusted to be framed); ignorable
// failures are logged and swallowed after the body, if any, has been
// drained.
func (s *Session) applyRemote(ev *protocol.SyncEvent, fr *protocol.FrameReader) error {
	body := fr.Body(ev)

	abs, key, ok := s.resolve(ev.FilePath)
	if !ok {
		slog.Warn("Dropping event with unsafe path", slogutil.FilePath(ev.FilePath))
		return drain(body)
	}

	// Store the hash before applying. Our own filesystem mutation below
	// will surface as a watcher event; the matching registry entry is what
	// suppresses it.
	s.registry.Insert(key, ev.Checksum)

	switch ev.Action {
	case protocol.ActionCreate, protocol.ActionModify:
		return s.applyUpsert(ev, abs, key, body)

	case protocol.ActionDelete:
		if err := os.Remove(abs); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Cannot delete", slogutil.FilePath(abs), slogutil.Error(err))
			}
		} else {
			slog.Info("Deleted file", slogutil.FilePath(abs))
		}
		s.notePendingRemove(key, ev.Checksum)
		if ev.Checksum == "" {
			s.registry.Remove(key)
		}
		return nil

	case protocol.ActionRename:
		return s.applyRename(ev, abs, key)

	case protocol.ActionAttrChange:
		// Defined in the schema, but propagation semantics are not agreed
		// with the peer yet.
		slog.Debug("Ignoring attrchange", slogutil.FilePath(key))
		return nil

	default:
		slog.Warn("Unknown action", slog.String("event", ev.String()))
		return drain(body)
	}
}

// applyUpsert streams the body into the sibling temp file and renames it
// into place, then re-asserts the registry entry.
func (s *Session) applyUpsert(ev *protocol.SyncEvent, abs, key string, body io.Reader) error {
	w, err := osutil.CreateAtomic(abs, fs.FileMode(ev.Permissions&0o7777))
	if err != nil {
		slog.Warn("Cannot apply remote file", slogutil.FilePath(abs), slogutil.Error(err))
		return drain(body)
	}

	n, err := copyChunked(w, body)
	if err != nil || n != int64(ev.FileSize) {
		w.Abort()
		if derr := drain(body); derr != nil {
			return derr
		}
		if err == nil {
			return fmt.Errorf("short body for %s: %d of %d bytes: %w", key, n, ev.FileSize, io.ErrUnexpectedEOF)
		}
		// The stream itself is intact; a local write failure only costs us
		// this one event.
		slog.Warn("Cannot write remote file", slogutil.FilePath(abs), slogutil.Error(err))
		return nil
	}

	if err := w.Close(); err != nil {
		slog.Warn("Cannot finalize remote file", slogutil.FilePath(abs), slogutil.Error(err))
		return nil
	}

	s.registry.Insert(key, ev.Checksum)
	slog.Info("Applied remote file", slogutil.FilePath(abs), slog.Uint64("size", ev.FileSize))
	return nil
}

func (s *Session) applyRename(ev *protocol.SyncEvent, abs, key string) error {
	if ev.NewPath == "" {
		slog.Warn("Rename without destination", slogutil.FilePath(key))
		return nil
	}
	newAbs, newKey, ok := s.resolve(ev.NewPath)
	if !ok {
		slog.Warn("Dropping rename with unsafe destination", slogutil.FilePath(ev.NewPath))
		return nil
	}

	if err := os.Rename(abs, newAbs); err != nil {
		slog.Warn("Cannot rename", slogutil.FilePath(abs), slogutil.Error(err))
		return nil
	}
	slog.Info("Renamed file", slogutil.FilePath(abs), slog.String("to", newKey))

	// The watcher will see a removal of the old name and a creation of the
	// new one; prime both so neither is echoed back.
	s.registry.Insert(newKey, ev.Checksum)
	s.notePendingRemove(key, ev.Checksum)
	return nil
}

// outboundLoop receives watcher events and ships them to the peer, in
// delivery order.
func (s *Session) outboundLoop(ctx context.Context) error {
	fw := protocol.NewFrameWriter(s.conn)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			if err := s.shipLocal(fw, ev); err != nil {
				return err
			}
		}
	}
}

// shipLocal runs one watcher event through the outbound path: normalize,
// filter, hash, echo-check, then frame and send. Returned errors are
// socket failures, fatal to the session; everything else drops the event.
func (s *Session) shipLocal(fw *protocol.FrameWriter, ev watcher.Event) error {
	key, ok := s.relativize(ev.Path)
	if !ok {
		slog.Debug("Dropping event outside sync root", slogutil.FilePath(ev.Path))
		return nil
	}
	if s.matcher.Match(ev.Path) {
		slog.Debug("Ignoring file", slogutil.FilePath(ev.Path))
		return nil
	}

	sev := &protocol.SyncEvent{FilePath: key}
	var body io.ReadCloser

	if ev.Kind.IsRemove() {
		digest, _ := s.registry.Remove(key)
		if want, pending := s.takePendingRemove(key); pending && want == digest {
			slog.Debug("Suppressing delete echo", slogutil.FilePath(key))
			return nil
		}
		sev.Action = protocol.ActionDelete
		sev.Checksum = digest
	} else {
		digest, err := scanner.HashFile(ev.Path)
		if err != nil {
			slog.Debug("Cannot hash, dropping event", slogutil.FilePath(ev.Path), slogutil.Error(err))
			return nil
		}
		if prev, exists := s.registry.Get(key); exists && prev == digest {
			slog.Debug("Suppressing echo", slogutil.FilePath(key))
			return nil
		}
		s.takePendingRemove(key)

		fd, err := os.Open(ev.Path)
		if err != nil {
			slog.Debug("Cannot open, dropping event", slogutil.FilePath(ev.Path), slogutil.Error(err))
			return nil
		}
		fi, err := fd.Stat()
		if err != nil {
			fd.Close()
			slog.Debug("Cannot stat, dropping event", slogutil.FilePath(ev.Path), slogutil.Error(err))
			return nil
		}

		if ev.Kind.IsCreate() {
			sev.Action = protocol.ActionCreate
		} else {
			sev.Action = protocol.ActionModify
		}
		sev.FileSize = uint64(fi.Size())
		sev.Checksum = digest
		s.registry.Insert(key, digest)
		body = fd
	}

	if body != nil {
		defer body.Close()
	}
	if err := fw.Send(sev, body); err != nil {
		return fmt.Errorf("send %s: %w", sev, err)
	}
	metricFrames.WithLabelValues(dirOutbound).Inc()
	slog.Info("Sent event", slog.String("event", sev.String()))
	return nil
}

// relativize turns an absolute watcher path into the normalized key:
// relative to the sync root, forward slash separated, no leading slash.
func (s *Session) relativize(p string) (string, bool) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// resolve validates a peer supplied relative path and anchors it under the
// sync root. Paths that would escape the root are rejected.
func (s *Session) resolve(p string) (abs, key string, ok bool) {
	key = strings.TrimLeft(p, "/")
	key = path.Clean(key)
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", "", false
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), key, true
}

// copyChunked copies body to w in bounded chunks, returning the byte count
// like io.Copy but never reading more than the body's limit.
func copyChunked(w io.Writer, body io.Reader) (int64, error) {
	buf := make([]byte, 65536)
	return io.CopyBuffer(w, body, buf)
}

// drain consumes the remainder of an inbound body so the stream stays
// framed after an ignorable failure. Its error is a socket error and fatal.
func drain(body io.Reader) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return fmt.Errorf("drain body: %w", err)
	}
	return nil
}
