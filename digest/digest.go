// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package digest provides a compact representation for the SHA-256
// digests that anchor evidence integrity: every evidence file records
// the digest of its plaintext, and every audit entry is identified by
// the digest of its canonical encoding. A Digest is a value type
// suitable for map keys and comparison; the zero Digest is reserved
// to mean "no digest".
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/evidentia/custody/errors"
)

// Size is the size of a digest in bytes.
const Size = sha256.Size

// Digest is a SHA-256 digest value.
type Digest [Size]byte

// Compute returns the digest of the provided bytes.
func Compute(p []byte) Digest {
	return Digest(sha256.Sum256(p))
}

// ComputeReader returns the digest of the contents of reader r,
// together with the number of bytes read.
func ComputeReader(r io.Reader) (Digest, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, 0, err
	}
	var d Digest
	h.Sum(d[:0])
	return d, n, nil
}

// Parse parses a hex-encoded digest as returned by String.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(Size) {
		return Digest{}, errors.E(errors.Invalid, "digest: wrong length for hex digest "+s)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Digest{}, errors.E(errors.Invalid, "digest: parsing "+s, err)
	}
	return d, nil
}

// IsZero tells whether d is the zero (absent) digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the full hex encoding of digest d.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns a short (8 hex character) prefix of d's hexadecimal
// encoding, suitable for log messages.
func (d Digest) Short() string {
	return d.String()[:8]
}

// Bytes returns the digest as a byte slice.
func (d Digest) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, d[:])
	return b
}

// MarshalText implements encoding.TextMarshaler, rendering the digest
// in its hex form. The zero digest marshals to the empty string.
func (d Digest) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The empty string
// unmarshals to the zero digest.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
