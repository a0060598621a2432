// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cryptostore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/evidentia/custody/errors"
)

// A Handle names one encrypted blob in a BlobStore. Handles are
// opaque to callers; they are minted by Store.Encrypt and written
// exactly once.
type Handle string

// BlobStore is the byte store underlying a Store. Blobs are opaque
// and write-once: Put is never called twice with the same handle.
type BlobStore interface {
	// Put stores the blob under the given handle.
	Put(ctx context.Context, handle Handle, blob []byte) error
	// Get retrieves the blob stored under the given handle.
	Get(ctx context.Context, handle Handle) ([]byte, error)
}

// FileStore is a BlobStore that keeps one file per blob in a single
// directory. Files are created with mode 0600 and never rewritten.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.E("cryptostore: creating blob directory "+dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(handle Handle) (string, error) {
	// Handles are minted internally, but a stored handle read back
	// from a repository could have been altered.
	if strings.ContainsAny(string(handle), `/\`) || handle == "" {
		return "", errors.E(errors.Invalid, "cryptostore: malformed blob handle "+string(handle))
	}
	return filepath.Join(s.dir, string(handle)), nil
}

// Put implements BlobStore.
func (s *FileStore) Put(ctx context.Context, handle Handle, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.E("cryptostore: put "+string(handle), err)
	}
	path, err := s.path(handle)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return errors.E(errors.Conflict, "cryptostore: blob already exists: "+string(handle))
		}
		return errors.E("cryptostore: creating blob "+string(handle), err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(path)
		return errors.E("cryptostore: writing blob "+string(handle), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return errors.E("cryptostore: closing blob "+string(handle), err)
	}
	return nil
}

// Get implements BlobStore.
func (s *FileStore) Get(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.E("cryptostore: get "+string(handle), err)
	}
	path, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(errors.NotExist, "cryptostore: no such blob: "+string(handle))
		}
		return nil, errors.E("cryptostore: reading blob "+string(handle), err)
	}
	return blob, nil
}

// MemStore is an in-memory BlobStore for tests and the in-process
// reference repository.
type MemStore struct {
	mu    sync.Mutex
	blobs map[Handle][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{blobs: map[Handle][]byte{}}
}

// Put implements BlobStore.
func (s *MemStore) Put(_ context.Context, handle Handle, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[handle]; ok {
		return errors.E(errors.Conflict, "cryptostore: blob already exists: "+string(handle))
	}
	stored := make([]byte, len(blob))
	copy(stored, blob)
	s.blobs[handle] = stored
	return nil
}

// Get implements BlobStore.
func (s *MemStore) Get(_ context.Context, handle Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[handle]
	if !ok {
		return nil, errors.E(errors.NotExist, "cryptostore: no such blob: "+string(handle))
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Corrupt flips one bit of the blob stored under handle at the given
// byte offset. It exists for tests that exercise tamper detection.
func (s *MemStore) Corrupt(handle Handle, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[handle]
	if !ok {
		return errors.E(errors.NotExist, "cryptostore: no such blob: "+string(handle))
	}
	if offset < 0 || offset >= len(blob) {
		return errors.E(errors.Invalid, "cryptostore: corrupt offset out of range")
	}
	blob[offset] ^= 0x01
	return nil
}

// Truncate shortens the blob stored under handle to n bytes. It
// exists for tests that exercise malformed blob handling.
func (s *MemStore) Truncate(handle Handle, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[handle]
	if !ok {
		return errors.E(errors.NotExist, "cryptostore: no such blob: "+string(handle))
	}
	if n < 0 || n > len(blob) {
		return errors.E(errors.Invalid, "cryptostore: truncate length out of range")
	}
	s.blobs[handle] = blob[:n]
	return nil
}
