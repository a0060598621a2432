// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package custody

import (
	"time"

	"github.com/evidentia/custody/cryptostore"
	"github.com/evidentia/custody/digest"
)

// Item is one evidence item under custody. Its case metadata is
// immutable after creation; Custodian is the only mutable field, and
// the Manager is its sole writer. Custodian always equals the
// accepting party of the most recently accepted transfer, or the
// creator if no transfer has ever completed.
type Item struct {
	// ID is the item's opaque unique identifier.
	ID string
	// Ref is the human-facing composite reference,
	// agency-caseNo-itemNo. Unique across items.
	Ref string

	Agency      string
	CaseNo      string
	Offense     string
	ItemNo      string
	BadgeNo     string
	Location    string
	CollectedAt time.Time
	Description string

	// CreatedBy is the identity that created the item.
	CreatedBy string
	// Custodian is the identity currently accountable for the item.
	Custodian string
	CreatedAt time.Time
}

// File is one evidence file belonging to exactly one Item. Files are
// immutable once created and never outlive their item: they are only
// ever added.
type File struct {
	ID     string
	ItemID string
	// Name is the original filename as uploaded.
	Name string
	// ContentType is the declared media type.
	ContentType string
	// Size is the plaintext length in bytes.
	Size int64
	// SHA256 is the digest of the plaintext, recorded independently
	// of the ciphertext's authentication tag.
	SHA256 digest.Digest
	// Handle locates the encrypted blob at rest.
	Handle    cryptostore.Handle
	CreatedAt time.Time
}

// TransferStatus is the lifecycle state of a transfer request. A
// transfer is created Pending and moves to exactly one terminal
// state; terminal transfers are immutable.
type TransferStatus string

const (
	Pending   TransferStatus = "PENDING"
	Accepted  TransferStatus = "ACCEPTED"
	Rejected  TransferStatus = "REJECTED"
	Cancelled TransferStatus = "CANCELLED"
)

// Terminal tells whether s is a terminal status.
func (s TransferStatus) Terminal() bool {
	switch s {
	case Accepted, Rejected, Cancelled:
		return true
	}
	return false
}

// Transfer is a two-party custody handoff for one item. From must
// equal the item's custodian at request time; at most one Pending
// transfer exists per item at any time.
type Transfer struct {
	ID     string
	ItemID string
	// From is the requesting custodian.
	From string
	// To is the proposed new custodian.
	To     string
	Reason string
	Status TransferStatus

	RequestedAt time.Time
	// ResolvedAt is when the transfer reached a terminal status;
	// zero while pending.
	ResolvedAt time.Time
}

// Analysis is an examination report attached to an item by its
// custodian at the time of analysis. Attached files are encrypted and
// recorded like evidence files.
type Analysis struct {
	ID     string
	ItemID string
	// Analyst is the identity that performed and recorded the
	// analysis.
	Analyst     string
	Role        string
	Place       string
	Description string
	AnalyzedAt  time.Time
	CreatedAt   time.Time
	Files       []File
}
