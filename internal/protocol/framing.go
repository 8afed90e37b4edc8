// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the encoded event payload, not the file body that may
// follow it. An incoming length prefix above this is a framing error.
const MaxFrameSize = 64 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// A FrameWriter emits length prefixed SyncEvent frames. It must be the only
// writer on the underlying stream: a frame's header, payload and body are
// written back to back with nothing interleaved.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Send writes one frame. When the event carries a body, exactly
// ev.FileSize bytes are copied from body directly after the payload. A
// partial write leaves the stream corrupt; the caller must treat any error
// as fatal to the connection.
func (fw *FrameWriter) Send(ev *SyncEvent, body io.Reader) error {
	payload := ev.Marshal()
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := fw.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	if !ev.HasBody() {
		return nil
	}
	n, err := io.CopyN(fw.w, body, int64(ev.FileSize))
	if err != nil {
		return fmt.Errorf("write body (%d of %d bytes): %w", n, ev.FileSize, err)
	}
	return nil
}

// A FrameReader consumes length prefixed SyncEvent frames. It must be the
// only reader on the underlying stream. After Next returns an event with a
// body, the caller must fully consume Body before calling Next again.
type FrameReader struct {
	r io.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next reads and decodes the next event header. io.EOF is returned as-is
// when the stream ends cleanly on a frame boundary.
func (fr *FrameReader) Next() (*SyncEvent, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(fr.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	ev := new(SyncEvent)
	if err := ev.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Body returns a reader over the ev.FileSize body bytes that follow the
// event on the stream. Actions that carry no body yield an empty reader.
func (fr *FrameReader) Body(ev *SyncEvent) io.Reader {
	if !ev.HasBody() {
		return io.LimitReader(fr.r, 0)
	}
	return io.LimitReader(fr.r, int64(ev.FileSize))
}
