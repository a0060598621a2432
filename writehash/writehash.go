// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package writehash provides a set of utility functions to hash
// common types into hashes. Variable-length values (strings and byte
// slices) are length-prefixed so that the encoding of a sequence of
// fields is unambiguous: no two distinct field sequences produce the
// same byte stream. The audit chain's canonical entry encoding is
// built on these functions and depends on that property.
package writehash

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"
)

func must(n int, err error) {
	if err != nil {
		panic(fmt.Sprintf("writehash: hash.Write returned unexpected error: %v", err))
	}
}

// String encodes the string s into h, preceded by its length.
func String(h hash.Hash, s string) {
	Uint64(h, uint64(len(s)))
	must(io.WriteString(h, s))
}

// Bytes encodes the byte slice p into h, preceded by its length.
func Bytes(h hash.Hash, p []byte) {
	Uint64(h, uint64(len(p)))
	must(h.Write(p))
}

// Int encodes the integer v into h.
func Int(h hash.Hash, v int) {
	Uint64(h, uint64(v))
}

// Int64 encodes the 64-bit integer v into h.
func Int64(h hash.Hash, v int64) {
	Uint64(h, uint64(v))
}

// Uint32 encodes the unsigned 32-bit integer v into h.
func Uint32(h hash.Hash, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	must(h.Write(buf[:]))
}

// Uint64 encodes the unsigned 64-bit integer v into h.
func Uint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	must(h.Write(buf[:]))
}

// Byte writes the byte b into h.
func Byte(h hash.Hash, b byte) {
	if w, ok := h.(io.ByteWriter); ok {
		must(0, w.WriteByte(b))
		return
	}
	must(h.Write([]byte{b}))
}
