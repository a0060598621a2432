// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cryptostore

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"

	"github.com/evidentia/custody/errors"
)

// KeySize is the size in bytes of the master key (AES-256).
const KeySize = 32

// KeyEnv is the environment variable from which KeyFromEnv reads the
// base64-encoded master key.
const KeyEnv = "CUSTODY_AES_KEY_BASE64"

// Key is the process-wide symmetric master key. It is supplied once
// at process start from an external secret source; the store never
// derives, rotates, or persists it.
type Key [KeySize]byte

// ParseKey decodes a base64-encoded master key.
func ParseKey(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, errors.E(errors.Invalid, "cryptostore: decoding master key", err)
	}
	if len(raw) != KeySize {
		return Key{}, errors.E(errors.Invalid, "cryptostore: master key must be 32 bytes")
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}

// KeyFromEnv reads the master key from the environment variable
// named by KeyEnv.
func KeyFromEnv() (Key, error) {
	s, ok := os.LookupEnv(KeyEnv)
	if !ok || s == "" {
		return Key{}, errors.E(errors.Invalid, "cryptostore: "+KeyEnv+" is not set")
	}
	return ParseKey(s)
}

// GenerateKey returns a fresh random master key and its base64
// encoding, suitable for provisioning a new deployment.
func GenerateKey() (Key, string, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, "", errors.E("cryptostore: generating master key", err)
	}
	return k, base64.StdEncoding.EncodeToString(k[:]), nil
}
