// Copyright (C) 2025 The AuraSync Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scanner computes the content digests that drive change detection
// and echo suppression. Both peers hash with BLAKE3 and compare the
// lowercase hex encodings byte for byte.
package scanner

import (
	"encoding/hex"
	"io"
	"os"

	"lukechampine.com/blake3"
)

const (
	digestSize = 32
	chunkSize  = 65536
)

// Hash returns the lowercase hex BLAKE3 digest of everything readable from
// r, fed to the hasher in fixed size chunks.
func Hash(r io.Reader) (string, error) {
	h := blake3.New(digestSize, nil)
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile streams the file at path through Hash.
func HashFile(path string) (string, error) {
	fd, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fd.Close()
	return Hash(fd)
}
