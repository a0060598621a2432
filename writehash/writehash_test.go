// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package writehash_test

import (
	"crypto/sha256"
	"testing"

	"github.com/evidentia/custody/writehash"
)

func TestDeterminism(t *testing.T) {
	sum := func() [sha256.Size]byte {
		h := sha256.New()
		writehash.Byte(h, 1)
		writehash.Int(h, 42)
		writehash.String(h, "evidence-1")
		writehash.Int64(h, 1700000000)
		var d [sha256.Size]byte
		h.Sum(d[:0])
		return d
	}
	if sum() != sum() {
		t.Error("same field sequence must produce the same digest")
	}
}

// Length prefixes must keep adjacent variable-length fields from
// sliding into each other.
func TestNoFieldSliding(t *testing.T) {
	sum := func(parts ...string) [sha256.Size]byte {
		h := sha256.New()
		for _, p := range parts {
			writehash.String(h, p)
		}
		var d [sha256.Size]byte
		h.Sum(d[:0])
		return d
	}
	if sum("ab", "c") == sum("a", "bc") {
		t.Error(`encodings of ("ab","c") and ("a","bc") must differ`)
	}
	if sum("", "x") == sum("x", "") {
		t.Error(`encodings of ("","x") and ("x","") must differ`)
	}
}

func TestOrderSensitivity(t *testing.T) {
	sum := func(a, b int) [sha256.Size]byte {
		h := sha256.New()
		writehash.Int(h, a)
		writehash.Int(h, b)
		var d [sha256.Size]byte
		h.Sum(d[:0])
		return d
	}
	if sum(1, 2) == sum(2, 1) {
		t.Error("field order must affect the digest")
	}
}
