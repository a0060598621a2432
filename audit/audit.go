// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package audit maintains the tamper-evident history of every
// evidence item. Each item owns an independent hash chain of
// append-only entries: every entry records the hash of its
// predecessor and its own hash over a canonical encoding of its
// fields, so that any retroactive edit to stored history is
// detectable by recomputation. Entries are only ever appended, never
// mutated or deleted, and only for operations that actually
// committed; the chain is a faithful history, not a log of attempts.
//
// # Canonical encoding (version 1)
//
// An entry's hash is the SHA-256 digest, in hex, of the following
// fields encoded with package writehash (length-prefixed strings,
// little-endian fixed-width integers), in this order:
//
//	version byte (1), sequence number, item id, actor, action,
//	detail count, then each detail key and value in order,
//	timestamp as Unix seconds, previous hash (hex; empty for the
//	first entry)
//
// Timestamps are UTC truncated to whole seconds so that hashes
// survive storage round-trips. The previous-hash sentinel for the
// first entry of a chain is the empty string. This encoding is
// effectively a wire format: changing it breaks verifiability of
// every previously computed chain, so any change must introduce a new
// version byte and leave version 1 intact.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/evidentia/custody/errors"
	"github.com/evidentia/custody/writehash"
)

// Action tags the kind of custody-relevant event an entry records.
// The set is closed: Valid reports whether a stored value is one of
// the defined tags, and consumers are expected to switch over all of
// them.
type Action string

const (
	Created           Action = "CREATED"
	FileAdded         Action = "FILE_ADDED"
	TransferRequested Action = "TRANSFER_REQUESTED"
	TransferAccepted  Action = "TRANSFER_ACCEPTED"
	TransferRejected  Action = "TRANSFER_REJECTED"
	TransferCancelled Action = "TRANSFER_CANCELLED"
	FileDownloaded    Action = "FILE_DOWNLOADED"
	AnalysisAdded     Action = "ANALYSIS_ADDED"
)

var actions = map[Action]bool{
	Created:           true,
	FileAdded:         true,
	TransferRequested: true,
	TransferAccepted:  true,
	TransferRejected:  true,
	TransferCancelled: true,
	FileDownloaded:    true,
	AnalysisAdded:     true,
}

// Valid tells whether a is one of the defined action tags.
func (a Action) Valid() bool {
	return actions[a]
}

// A Detail is one key/value pair of an entry's structured detail
// payload. Details are ordered: their order is part of the canonical
// encoding.
type Detail struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// D is shorthand for constructing a Detail.
func D(key, value string) Detail {
	return Detail{Key: key, Value: value}
}

// Entry is one record of an item's audit chain. All fields are
// immutable once the entry is persisted.
type Entry struct {
	// Seq is the entry's position in its item's chain, starting at 1.
	Seq int64
	// ItemID identifies the evidence item whose chain this entry
	// belongs to.
	ItemID string
	// Actor is the identity that performed the recorded action.
	Actor string
	// Action tags what happened.
	Action Action
	// Details is the structured detail payload.
	Details []Detail
	// Time is when the action happened, in UTC at second precision.
	Time time.Time
	// PrevHash is the hex hash of the preceding entry of the same
	// chain, or the empty string for the first entry.
	PrevHash string
	// Hash is the hex hash of this entry's canonical encoding.
	Hash string
}

const encodingVersion = 1

// ComputeEntryHash computes the canonical version 1 hash of an entry
// over all fields except Hash itself. It is a pure function: two
// entries with equal fields always produce the same digest, and any
// field difference produces a different one.
func ComputeEntryHash(e Entry) string {
	h := sha256.New()
	writehash.Byte(h, encodingVersion)
	writehash.Int64(h, e.Seq)
	writehash.String(h, e.ItemID)
	writehash.String(h, e.Actor)
	writehash.String(h, string(e.Action))
	writehash.Int(h, len(e.Details))
	for _, d := range e.Details {
		writehash.String(h, d.Key)
		writehash.String(h, d.Value)
	}
	writehash.Int64(h, e.Time.Unix())
	writehash.String(h, e.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// A Ledger stores audit entries. Implementations must keep entries
// append-only and return them in sequence order.
type Ledger interface {
	// TailEntry returns the latest entry of the item's chain, or nil
	// if the chain is empty.
	TailEntry(ctx context.Context, itemID string) (*Entry, error)
	// AppendEntry persists a new entry.
	AppendEntry(ctx context.Context, e *Entry) error
	// Entries returns the item's chain in sequence order.
	Entries(ctx context.Context, itemID string) ([]Entry, error)
}

// Chain appends and verifies per-item audit chains stored in a
// Ledger. Appends for the same item must be serialized by the caller;
// the custody repository's per-item lock provides this, so two
// concurrent appenders can never both read the same tail and claim
// the same sequence number.
type Chain struct {
	ledger Ledger
}

// NewChain returns a Chain over the given ledger.
func NewChain(ledger Ledger) *Chain {
	return &Chain{ledger: ledger}
}

// Append creates, links, and persists the next entry of the item's
// chain, returning it.
func (c *Chain) Append(ctx context.Context, itemID, actor string, action Action, details []Detail) (*Entry, error) {
	if !action.Valid() {
		return nil, errors.E(errors.Invalid, "audit: unknown action "+string(action))
	}
	tail, err := c.ledger.TailEntry(ctx, itemID)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Seq:     1,
		ItemID:  itemID,
		Actor:   actor,
		Action:  action,
		Details: details,
		Time:    time.Now().UTC().Truncate(time.Second),
	}
	if tail != nil {
		e.Seq = tail.Seq + 1
		e.PrevHash = tail.Hash
	}
	e.Hash = ComputeEntryHash(*e)
	if err := c.ledger.AppendEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// A TamperError reports the first divergence found while verifying an
// item's chain.
type TamperError struct {
	ItemID string
	// Seq is the sequence number of the first divergent entry.
	Seq int64
	// Reason describes the divergence.
	Reason string
}

// Error implements error.
func (e *TamperError) Error() string {
	return fmt.Sprintf("audit: chain for item %s diverges at entry %d: %s", e.ItemID, e.Seq, e.Reason)
}

// VerifyEntries walks entries, assumed to be one item's chain in
// sequence order, and returns a TamperError naming the first entry
// whose sequence number, previous-hash link, or recomputed hash
// diverges from the stored chain. It returns nil for an untampered
// chain. It never repairs anything.
func VerifyEntries(itemID string, entries []Entry) *TamperError {
	prevHash := ""
	for i, e := range entries {
		if got, want := e.Seq, int64(i+1); got != want {
			return &TamperError{ItemID: itemID, Seq: want, Reason: fmt.Sprintf("sequence number is %d", got)}
		}
		if e.PrevHash != prevHash {
			return &TamperError{ItemID: itemID, Seq: e.Seq, Reason: "previous-hash link broken"}
		}
		if got, want := ComputeEntryHash(e), e.Hash; got != want {
			return &TamperError{ItemID: itemID, Seq: e.Seq, Reason: "stored hash does not match recomputation"}
		}
		prevHash = e.Hash
	}
	return nil
}

// Verify recomputes every hash and link of the item's chain in
// sequence order. On divergence it returns an error of kind Tampered
// wrapping the TamperError that names the first divergent sequence
// number.
func (c *Chain) Verify(ctx context.Context, itemID string) error {
	entries, err := c.ledger.Entries(ctx, itemID)
	if err != nil {
		return err
	}
	if tamper := VerifyEntries(itemID, entries); tamper != nil {
		return errors.E(errors.Tampered, tamper)
	}
	return nil
}
