// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Action is the intent carried by a SyncEvent. The numeric values are part
// of the wire schema and must match the peer's.
type Action int32

const (
	ActionCreate     Action = 0
	ActionModify     Action = 1
	ActionDelete     Action = 2
	ActionRename     Action = 3
	ActionAttrChange Action = 4
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionModify:
		return "modify"
	case ActionDelete:
		return "delete"
	case ActionRename:
		return "rename"
	case ActionAttrChange:
		return "attrchange"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

// SyncEvent is one change record on the wire; see sync_event.proto for the
// schema of record. The codec below is maintained by hand against that
// schema, encoding proto3 over the protowire primitives.
type SyncEvent struct {
	Action      Action
	FilePath    string
	NewPath     string
	FileSize    uint64
	Checksum    string
	Permissions uint32
}

func (e *SyncEvent) String() string {
	return fmt.Sprintf("SyncEvent{%s %q size=%d checksum=%s}", e.Action, e.FilePath, e.FileSize, e.Checksum)
}

// HasBody reports whether FileSize bytes of raw file contents follow the
// encoded event on the stream.
func (e *SyncEvent) HasBody() bool {
	return (e.Action == ActionCreate || e.Action == ActionModify) && e.FileSize > 0
}

// Marshal encodes the event as a proto3 message. Zero valued fields are
// omitted, per proto3 presence rules.
func (e *SyncEvent) Marshal() []byte {
	buf := make([]byte, 0, 64+len(e.FilePath)+len(e.NewPath)+len(e.Checksum))
	if e.Action != 0 {
		buf = protowire.AppendTag(buf, 1, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(e.Action))
	}
	if e.FilePath != "" {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendString(buf, e.FilePath)
	}
	if e.NewPath != "" {
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendString(buf, e.NewPath)
	}
	if e.FileSize != 0 {
		buf = protowire.AppendTag(buf, 4, protowire.VarintType)
		buf = protowire.AppendVarint(buf, e.FileSize)
	}
	if e.Checksum != "" {
		buf = protowire.AppendTag(buf, 5, protowire.BytesType)
		buf = protowire.AppendString(buf, e.Checksum)
	}
	if e.Permissions != 0 {
		buf = protowire.AppendTag(buf, 6, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(e.Permissions))
	}
	return buf
}

// Unmarshal decodes the event from a proto3 encoded buffer, replacing the
// receiver's fields. Unknown fields are skipped.
func (e *SyncEvent) Unmarshal(bs []byte) error {
	*e = SyncEvent{}
	for len(bs) > 0 {
		num, typ, n := protowire.ConsumeTag(bs)
		if n < 0 {
			return protowire.ParseError(n)
		}
		bs = bs[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(bs)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Action = Action(int32(v))
			bs = bs[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(bs)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.FilePath = v
			bs = bs[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(bs)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.NewPath = v
			bs = bs[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(bs)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.FileSize = v
			bs = bs[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(bs)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Checksum = v
			bs = bs[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(bs)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Permissions = uint32(v)
			bs = bs[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, bs)
			if n < 0 {
				return protowire.ParseError(n)
			}
			bs = bs[n:]
		}
	}
	return nil
}
