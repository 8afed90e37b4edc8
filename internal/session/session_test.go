// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aurasync/aurasync/internal/ignore"
	"github.com/aurasync/aurasync/internal/protocol"
	"github.com/aurasync/aurasync/internal/registry"
	"github.com/aurasync/aurasync/internal/scanner"
	"github.com/aurasync/aurasync/internal/watcher"
)

// testPeer is the remote end of a session under test, speaking the wire
// protocol over an in-memory pipe.
type testPeer struct {
	conn net.Conn
	fr   *protocol.FrameReader
	fw   *protocol.FrameWriter
}

func (p *testPeer) send(t *testing.T, ev *protocol.SyncEvent, body string) {
	t.Helper()
	require.NoError(t, p.fw.Send(ev, strings.NewReader(body)))
}

func (p *testPeer) recv(t *testing.T) (*protocol.SyncEvent, string) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	defer p.conn.SetReadDeadline(time.Time{})

	ev, err := p.fr.Next()
	require.NoError(t, err)
	body, err := io.ReadAll(p.fr.Body(ev))
	require.NoError(t, err)
	return ev, string(body)
}

// expectSilence asserts that no outbound frame arrives within the window.
func (p *testPeer) expectSilence(t *testing.T) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	defer p.conn.SetReadDeadline(time.Time{})

	_, err := p.fr.Next()
	require.Error(t, err, "expected no outbound frame")
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	require.True(t, nerr.Timeout())
}

type fixture struct {
	peer   *testPeer
	events chan watcher.Event
	root   string
	reg    *registry.Registry
	done   chan error
}

func startSession(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	reg := registry.New()
	events := make(chan watcher.Event, watcher.ChannelCapacity)

	client, server := net.Pipe()
	sess := New(server, events, root, reg, ignore.NewMatcher())

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	t.Cleanup(func() {
		client.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("session did not terminate")
		}
	})

	return &fixture{
		peer:   &testPeer{conn: client, fr: protocol.NewFrameReader(client), fw: protocol.NewFrameWriter(client)},
		events: events,
		root:   root,
		reg:    reg,
		done:   done,
	}
}

func (f *fixture) abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func waitForFile(t *testing.T, path, content string) {
	t.Helper()
	require.Eventually(t, func() bool {
		bs, err := os.ReadFile(path)
		return err == nil && string(bs) == content
	}, 5*time.Second, 10*time.Millisecond, "file %s", path)
}

func waitForGone(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Lstat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond, "file %s still present", path)
}

func hashOf(t *testing.T, content string) string {
	t.Helper()
	digest, err := scanner.Hash(strings.NewReader(content))
	require.NoError(t, err)
	return digest
}

func TestCreateFromPeer(t *testing.T) {
	f := startSession(t)
	digest := hashOf(t, "hello world")

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionCreate,
		FilePath: "notes/todo.txt",
		FileSize: 11,
		Checksum: digest,
	}, "hello world")

	waitForFile(t, f.abs("notes/todo.txt"), "hello world")

	got, ok := f.reg.Get("notes/todo.txt")
	require.True(t, ok)
	require.Equal(t, digest, got)

	if _, err := os.Lstat(f.abs("notes/todo.txt") + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	f.peer.expectSilence(t)
}

func TestEchoSuppressed(t *testing.T) {
	f := startSession(t)
	digest := hashOf(t, "x")

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionCreate,
		FilePath: "a.txt",
		FileSize: 1,
		Checksum: digest,
	}, "x")
	waitForFile(t, f.abs("a.txt"), "x")

	// The watcher observes our own write; the session must not re-send it.
	f.events <- watcher.Event{Path: f.abs("a.txt"), Kind: watcher.KindCreate}
	f.peer.expectSilence(t)
}

func TestLocalCreate(t *testing.T) {
	f := startSession(t)

	require.NoError(t, os.WriteFile(f.abs("a.txt"), []byte("x"), 0o644))
	f.events <- watcher.Event{Path: f.abs("a.txt"), Kind: watcher.KindCreate}

	ev, body := f.peer.recv(t)
	require.Equal(t, protocol.ActionCreate, ev.Action)
	require.Equal(t, "a.txt", ev.FilePath)
	require.Equal(t, uint64(1), ev.FileSize)
	require.Equal(t, hashOf(t, "x"), ev.Checksum)
	require.Equal(t, "x", body)

	got, ok := f.reg.Get("a.txt")
	require.True(t, ok)
	require.Equal(t, ev.Checksum, got)
}

func TestLocalModify(t *testing.T) {
	f := startSession(t)

	require.NoError(t, os.WriteFile(f.abs("doc.txt"), []byte("v1"), 0o644))
	f.events <- watcher.Event{Path: f.abs("doc.txt"), Kind: watcher.KindCreate}
	f.peer.recv(t)

	require.NoError(t, os.WriteFile(f.abs("doc.txt"), []byte("v2 longer"), 0o644))
	f.events <- watcher.Event{Path: f.abs("doc.txt"), Kind: watcher.KindModify}

	ev, body := f.peer.recv(t)
	require.Equal(t, protocol.ActionModify, ev.Action)
	require.Equal(t, uint64(9), ev.FileSize)
	require.Equal(t, "v2 longer", body)
}

func TestUnchangedModifySuppressed(t *testing.T) {
	f := startSession(t)

	require.NoError(t, os.WriteFile(f.abs("same.txt"), []byte("stable"), 0o644))
	f.events <- watcher.Event{Path: f.abs("same.txt"), Kind: watcher.KindCreate}
	f.peer.recv(t)

	// Touch without content change: digest matches the registry, no frame.
	f.events <- watcher.Event{Path: f.abs("same.txt"), Kind: watcher.KindModify}
	f.peer.expectSilence(t)
}

func TestDeleteFromPeer(t *testing.T) {
	f := startSession(t)
	digest := hashOf(t, "x")

	require.NoError(t, os.WriteFile(f.abs("a.txt"), []byte("x"), 0o644))
	f.reg.Insert("a.txt", digest)

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionDelete,
		FilePath: "a.txt",
		Checksum: digest,
	}, "")
	waitForGone(t, f.abs("a.txt"))

	// The watcher reports the removal we caused; it must be suppressed and
	// the registry entry must end up gone.
	f.events <- watcher.Event{Path: f.abs("a.txt"), Kind: watcher.KindRemove}
	f.peer.expectSilence(t)

	_, ok := f.reg.Get("a.txt")
	require.False(t, ok)
}

func TestLocalDelete(t *testing.T) {
	f := startSession(t)

	require.NoError(t, os.WriteFile(f.abs("b.txt"), []byte("data"), 0o644))
	f.events <- watcher.Event{Path: f.abs("b.txt"), Kind: watcher.KindCreate}
	created, _ := f.peer.recv(t)

	require.NoError(t, os.Remove(f.abs("b.txt")))
	f.events <- watcher.Event{Path: f.abs("b.txt"), Kind: watcher.KindRemove}

	ev, body := f.peer.recv(t)
	require.Equal(t, protocol.ActionDelete, ev.Action)
	require.Equal(t, "b.txt", ev.FilePath)
	require.Equal(t, created.Checksum, ev.Checksum)
	require.Empty(t, body)

	_, ok := f.reg.Get("b.txt")
	require.False(t, ok)
}

func TestIgnoredNames(t *testing.T) {
	f := startSession(t)

	for _, name := range []string{".DS_Store", "junk.tmp", "draft~"} {
		f.events <- watcher.Event{Path: f.abs(name), Kind: watcher.KindCreate}
	}
	f.peer.expectSilence(t)
	require.Zero(t, f.reg.Size())
}

func TestRenameFromPeer(t *testing.T) {
	f := startSession(t)
	digest := hashOf(t, "content")

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionCreate,
		FilePath: "a.txt",
		FileSize: 7,
		Checksum: digest,
	}, "content")
	waitForFile(t, f.abs("a.txt"), "content")

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionRename,
		FilePath: "a.txt",
		NewPath:  "b.txt",
		Checksum: digest,
	}, "")
	waitForFile(t, f.abs("b.txt"), "content")
	waitForGone(t, f.abs("a.txt"))

	// Neither half of the rename echoes back.
	f.events <- watcher.Event{Path: f.abs("a.txt"), Kind: watcher.KindRemove}
	f.events <- watcher.Event{Path: f.abs("b.txt"), Kind: watcher.KindCreate}
	f.peer.expectSilence(t)
}

func TestUnsafePathRejected(t *testing.T) {
	f := startSession(t)

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionCreate,
		FilePath: "../escape.txt",
		FileSize: 4,
		Checksum: hashOf(t, "evil"),
	}, "evil")

	// The body is drained, the stream stays framed, and the session keeps
	// serving.
	digest := hashOf(t, "ok")
	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionCreate,
		FilePath: "safe.txt",
		FileSize: 2,
		Checksum: digest,
	}, "ok")
	waitForFile(t, f.abs("safe.txt"), "ok")

	_, err := os.Lstat(filepath.Join(f.root, "..", "escape.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteOfMissingTolerated(t *testing.T) {
	f := startSession(t)

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionDelete,
		FilePath: "never-existed.txt",
	}, "")

	// Session is still alive and serving.
	digest := hashOf(t, "z")
	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionCreate,
		FilePath: "after.txt",
		FileSize: 1,
		Checksum: digest,
	}, "z")
	waitForFile(t, f.abs("after.txt"), "z")
}

func TestSessionEndsOnPeerClose(t *testing.T) {
	f := startSession(t)
	f.peer.conn.Close()

	select {
	case err := <-f.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end on peer close")
	}
}

func TestReceivedFileRehashesToChecksum(t *testing.T) {
	f := startSession(t)
	content := strings.Repeat("0123456789abcdef", 8192) // >64 KiB, several chunks
	digest := hashOf(t, content)

	f.peer.send(t, &protocol.SyncEvent{
		Action:   protocol.ActionCreate,
		FilePath: "big.bin",
		FileSize: uint64(len(content)),
		Checksum: digest,
	}, content)
	waitForFile(t, f.abs("big.bin"), content)

	rehashed, err := scanner.HashFile(f.abs("big.bin"))
	require.NoError(t, err)
	require.Equal(t, digest, rehashed)
}
