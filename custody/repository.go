// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package custody

import (
	"context"

	"github.com/evidentia/custody/audit"
)

// Tx exposes the repository's data operations. Within a WithItemLock
// body, a Tx gives exclusive access to one item's custody, transfer,
// and audit state; outside one, it offers plain (read-mostly) access.
//
// Consistency contract: when the function passed to WithItemLock
// returns an error, the implementation must leave no trace of the
// writes that function performed — the Manager relies on this to
// guarantee that custody state, transfer state, and the audit chain
// never diverge. Writes must be visible to subsequent reads within
// the same locked body.
type Tx interface {
	audit.Ledger

	// PutItem creates a new item. It fails with Conflict if an item
	// with the same ID, Ref, or CaseNo already exists.
	PutItem(ctx context.Context, item *Item) error
	// Item returns the item with the given ID, or NotExist.
	Item(ctx context.Context, itemID string) (*Item, error)
	// Items returns all items ordered by creation time.
	Items(ctx context.Context) ([]Item, error)
	// SetCustodian updates the item's current custodian.
	SetCustodian(ctx context.Context, itemID, custodian string) error

	// AddFile appends an immutable file record to its item.
	AddFile(ctx context.Context, f *File) error
	// File returns one file of the given item, or NotExist.
	File(ctx context.Context, itemID, fileID string) (*File, error)
	// Files returns the item's files in creation order.
	Files(ctx context.Context, itemID string) ([]File, error)

	// PutTransfer creates a new transfer request.
	PutTransfer(ctx context.Context, tr *Transfer) error
	// Transfer returns the transfer with the given ID, or NotExist.
	Transfer(ctx context.Context, transferID string) (*Transfer, error)
	// PendingTransfer returns the item's single outstanding pending
	// transfer, or nil if there is none.
	PendingTransfer(ctx context.Context, itemID string) (*Transfer, error)
	// Transfers returns all of the item's transfers, pending and
	// terminal, in request order.
	Transfers(ctx context.Context, itemID string) ([]Transfer, error)
	// TransfersTo returns pending transfers addressed to the given
	// identity.
	TransfersTo(ctx context.Context, identity string) ([]Transfer, error)
	// TransfersFrom returns pending transfers requested by the given
	// identity.
	TransfersFrom(ctx context.Context, identity string) ([]Transfer, error)
	// SetTransferStatus moves a transfer to a new status.
	SetTransferStatus(ctx context.Context, transferID string, status TransferStatus) error

	// AddAnalysis appends an analysis report to its item.
	AddAnalysis(ctx context.Context, a *Analysis) error
	// Analyses returns the item's analyses in creation order.
	Analyses(ctx context.Context, itemID string) ([]Analysis, error)
}

// Repository is the persistence boundary consumed by the Manager.
// WithItemLock is the primitive that makes multi-step operations
// atomic per item: operations on the same item are serialized, while
// unrelated items proceed concurrently. Lock acquisition is always a
// single item ID — there is no nested multi-item locking — so
// deadlock between item-scoped operations cannot occur.
type Repository interface {
	Tx

	// WithItemLock runs fn with exclusive access to the given item's
	// custody, transfer, and audit state. If ctx is canceled before
	// the lock is acquired, fn does not run; once fn has started
	// there is no cancellation point, and fn's writes are applied
	// all-or-nothing per the Tx consistency contract.
	WithItemLock(ctx context.Context, itemID string, fn func(tx Tx) error) error
}
