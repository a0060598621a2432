// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cryptostore stores evidence file contents encrypted at
// rest. Plaintext is sealed with AES-256-GCM under a process-wide
// master key and persisted to an underlying blob store as
//
//	nonce (12 bytes) || ciphertext (variable) || tag (16 bytes)
//
// concatenated with no separators, one opaque blob per file. This
// layout is a wire format: it must remain bit-compatible across
// implementations. Each seal uses a fresh 96-bit nonce from a
// cryptographically secure random source; nonce reuse under the same
// key would be a critical confidentiality failure, and random 96-bit
// nonces make accidental collision negligible at expected volumes.
//
// Alongside the ciphertext, Encrypt returns the SHA-256 digest of the
// original plaintext, which the custody layer records for integrity
// verification independent of the cipher's own authentication tag.
package cryptostore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/google/uuid"

	"github.com/evidentia/custody/digest"
	"github.com/evidentia/custody/errors"
)

// NonceSize is the GCM nonce size in bytes.
const NonceSize = 12

// TagSize is the GCM authentication tag size in bytes.
const TagSize = 16

var randomSource io.Reader = rand.Reader

// Store encrypts and decrypts evidence file bytes. It is stateless
// apart from the master key and safe for concurrent use.
type Store struct {
	aead  cipher.AEAD
	blobs BlobStore
}

// New returns a Store sealing blobs under the given master key and
// persisting them to blobs.
func New(key Key, blobs BlobStore) (*Store, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.E("cryptostore: initializing cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.E("cryptostore: initializing GCM", err)
	}
	return &Store{aead: aead, blobs: blobs}, nil
}

// Encrypt seals plaintext under the master key with a fresh random
// nonce, persists the resulting blob, and returns its handle together
// with the SHA-256 digest of the plaintext. The plaintext itself is
// never logged.
func (s *Store) Encrypt(ctx context.Context, plaintext []byte) (Handle, digest.Digest, error) {
	buf := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(randomSource, buf[:NonceSize]); err != nil {
		return "", digest.Digest{}, errors.E("cryptostore: generating nonce", err)
	}
	// Seal appends ciphertext||tag after the nonce prefix, yielding
	// the mandated blob layout in one allocation.
	blob := s.aead.Seal(buf, buf[:NonceSize], plaintext, nil)
	handle := Handle(uuid.NewString() + ".bin")
	if err := s.blobs.Put(ctx, handle, blob); err != nil {
		return "", digest.Digest{}, err
	}
	return handle, digest.Compute(plaintext), nil
}

// Decrypt reads the blob stored under handle, splits it into nonce,
// ciphertext, and tag, and decrypts and authenticates it. It fails
// with an Integrity error if the blob is malformed or truncated, or
// if the authentication tag does not verify; it never returns partial
// or unauthenticated data.
func (s *Store) Decrypt(ctx context.Context, handle Handle) ([]byte, error) {
	blob, err := s.blobs.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize+TagSize {
		return nil, errors.E(errors.Integrity, "cryptostore: blob "+string(handle)+" is truncated")
	}
	nonce, sealed := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.E(errors.Integrity, "cryptostore: authenticating blob "+string(handle), err)
	}
	return plaintext, nil
}
