// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package custody

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evidentia/custody/audit"
	"github.com/evidentia/custody/errors"
)

// memRepository is the in-process reference implementation of
// Repository. It honors the Tx consistency contract by snapshotting
// an item's state on lock entry and restoring it when the locked
// function fails, so a failed multi-step operation leaves no trace.
type memRepository struct {
	locks LockMap

	mu        sync.Mutex
	items     map[string]*Item
	itemOrder []string
	refs      map[string]string // Ref -> item ID
	caseNos   map[string]string // CaseNo -> item ID
	files     map[string][]File
	transfers map[string]*Transfer
	analyses  map[string][]Analysis
	entries   map[string][]audit.Entry
}

// NewMemRepository returns an empty in-memory Repository, suitable
// for tests and single-process deployments that do not need
// durability.
func NewMemRepository() Repository {
	return &memRepository{
		items:     map[string]*Item{},
		refs:      map[string]string{},
		caseNos:   map[string]string{},
		files:     map[string][]File{},
		transfers: map[string]*Transfer{},
		analyses:  map[string][]Analysis{},
		entries:   map[string][]audit.Entry{},
	}
}

// itemState is everything WithItemLock must be able to restore for
// one item.
type itemState struct {
	item      *Item
	inOrder   bool
	files     []File
	transfers map[string]Transfer
	analyses  []Analysis
	entries   []audit.Entry
}

func (r *memRepository) snapshot(itemID string) itemState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := itemState{transfers: map[string]Transfer{}}
	if item, ok := r.items[itemID]; ok {
		itemCopy := *item
		s.item = &itemCopy
		s.inOrder = true
	}
	s.files = append([]File(nil), r.files[itemID]...)
	s.analyses = append([]Analysis(nil), r.analyses[itemID]...)
	s.entries = append([]audit.Entry(nil), r.entries[itemID]...)
	for id, tr := range r.transfers {
		if tr.ItemID == itemID {
			s.transfers[id] = *tr
		}
	}
	return s
}

func (r *memRepository) restore(itemID string, s itemState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.item == nil {
		if cur, ok := r.items[itemID]; ok {
			delete(r.refs, cur.Ref)
			delete(r.caseNos, cur.CaseNo)
			delete(r.items, itemID)
			for i, id := range r.itemOrder {
				if id == itemID {
					r.itemOrder = append(r.itemOrder[:i], r.itemOrder[i+1:]...)
					break
				}
			}
		}
	} else {
		itemCopy := *s.item
		r.items[itemID] = &itemCopy
	}
	r.files[itemID] = s.files
	r.analyses[itemID] = s.analyses
	r.entries[itemID] = s.entries
	for id, tr := range r.transfers {
		if tr.ItemID != itemID {
			continue
		}
		if _, ok := s.transfers[id]; !ok {
			delete(r.transfers, id)
		}
	}
	for id, tr := range s.transfers {
		trCopy := tr
		r.transfers[id] = &trCopy
	}
}

// WithItemLock implements Repository.
func (r *memRepository) WithItemLock(ctx context.Context, itemID string, fn func(tx Tx) error) error {
	m := r.locks.Get(itemID)
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()
	before := r.snapshot(itemID)
	if err := fn(r); err != nil {
		r.restore(itemID, before)
		return err
	}
	return nil
}

// PutItem implements Tx.
func (r *memRepository) PutItem(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; ok {
		return errors.E(errors.Conflict, "custody: item "+item.ID+" already exists")
	}
	if _, ok := r.refs[item.Ref]; ok {
		return errors.E(errors.Conflict, "custody: evidence reference "+item.Ref+" already exists")
	}
	if _, ok := r.caseNos[item.CaseNo]; ok {
		return errors.E(errors.Conflict, "custody: case number "+item.CaseNo+" already exists")
	}
	itemCopy := *item
	r.items[item.ID] = &itemCopy
	r.itemOrder = append(r.itemOrder, item.ID)
	r.refs[item.Ref] = item.ID
	r.caseNos[item.CaseNo] = item.ID
	return nil
}

// Item implements Tx.
func (r *memRepository) Item(_ context.Context, itemID string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, errors.E(errors.NotExist, "custody: no such item: "+itemID)
	}
	itemCopy := *item
	return &itemCopy, nil
}

// Items implements Tx.
func (r *memRepository) Items(_ context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, 0, len(r.itemOrder))
	for _, id := range r.itemOrder {
		out = append(out, *r.items[id])
	}
	return out, nil
}

// SetCustodian implements Tx.
func (r *memRepository) SetCustodian(_ context.Context, itemID, custodian string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return errors.E(errors.NotExist, "custody: no such item: "+itemID)
	}
	item.Custodian = custodian
	return nil
}

// AddFile implements Tx.
func (r *memRepository) AddFile(_ context.Context, f *File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[f.ItemID]; !ok {
		return errors.E(errors.NotExist, "custody: no such item: "+f.ItemID)
	}
	r.files[f.ItemID] = append(r.files[f.ItemID], *f)
	return nil
}

// File implements Tx.
func (r *memRepository) File(_ context.Context, itemID, fileID string) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files[itemID] {
		if f.ID == fileID {
			fileCopy := f
			return &fileCopy, nil
		}
	}
	return nil, errors.E(errors.NotExist, "custody: no such file: "+fileID)
}

// Files implements Tx.
func (r *memRepository) Files(_ context.Context, itemID string) ([]File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]File(nil), r.files[itemID]...), nil
}

// PutTransfer implements Tx.
func (r *memRepository) PutTransfer(_ context.Context, tr *Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transfers[tr.ID]; ok {
		return errors.E(errors.Conflict, "custody: transfer "+tr.ID+" already exists")
	}
	if _, ok := r.items[tr.ItemID]; !ok {
		return errors.E(errors.NotExist, "custody: no such item: "+tr.ItemID)
	}
	trCopy := *tr
	r.transfers[tr.ID] = &trCopy
	return nil
}

// Transfer implements Tx.
func (r *memRepository) Transfer(_ context.Context, transferID string) (*Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.transfers[transferID]
	if !ok {
		return nil, errors.E(errors.NotExist, "custody: no such transfer: "+transferID)
	}
	trCopy := *tr
	return &trCopy, nil
}

// PendingTransfer implements Tx.
func (r *memRepository) PendingTransfer(_ context.Context, itemID string) (*Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.transfers {
		if tr.ItemID == itemID && tr.Status == Pending {
			trCopy := *tr
			return &trCopy, nil
		}
	}
	return nil, nil
}

// TransfersTo implements Tx.
func (r *memRepository) TransfersTo(_ context.Context, identity string) ([]Transfer, error) {
	return r.pendingBy(func(tr *Transfer) bool { return tr.To == identity })
}

// TransfersFrom implements Tx.
func (r *memRepository) TransfersFrom(_ context.Context, identity string) ([]Transfer, error) {
	return r.pendingBy(func(tr *Transfer) bool { return tr.From == identity })
}

// Transfers implements Tx.
func (r *memRepository) Transfers(_ context.Context, itemID string) ([]Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transfer
	for _, tr := range r.transfers {
		if tr.ItemID == itemID {
			out = append(out, *tr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepository) pendingBy(match func(*Transfer) bool) ([]Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transfer
	for _, tr := range r.transfers {
		if tr.Status == Pending && match(tr) {
			out = append(out, *tr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetTransferStatus implements Tx.
func (r *memRepository) SetTransferStatus(_ context.Context, transferID string, status TransferStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.transfers[transferID]
	if !ok {
		return errors.E(errors.NotExist, "custody: no such transfer: "+transferID)
	}
	tr.Status = status
	if status.Terminal() {
		tr.ResolvedAt = time.Now().UTC()
	}
	return nil
}

// AddAnalysis implements Tx.
func (r *memRepository) AddAnalysis(_ context.Context, a *Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ItemID]; !ok {
		return errors.E(errors.NotExist, "custody: no such item: "+a.ItemID)
	}
	aCopy := *a
	aCopy.Files = append([]File(nil), a.Files...)
	r.analyses[a.ItemID] = append(r.analyses[a.ItemID], aCopy)
	return nil
}

// Analyses implements Tx.
func (r *memRepository) Analyses(_ context.Context, itemID string) ([]Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Analysis, 0, len(r.analyses[itemID]))
	for _, a := range r.analyses[itemID] {
		aCopy := a
		aCopy.Files = append([]File(nil), a.Files...)
		out = append(out, aCopy)
	}
	return out, nil
}

// TailEntry implements audit.Ledger.
func (r *memRepository) TailEntry(_ context.Context, itemID string) (*audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.entries[itemID]
	if len(chain) == 0 {
		return nil, nil
	}
	tail := chain[len(chain)-1]
	return &tail, nil
}

// AppendEntry implements audit.Ledger.
func (r *memRepository) AppendEntry(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eCopy := *e
	eCopy.Details = append([]audit.Detail(nil), e.Details...)
	r.entries[e.ItemID] = append(r.entries[e.ItemID], eCopy)
	return nil
}

// Entries implements audit.Ledger.
func (r *memRepository) Entries(_ context.Context, itemID string) ([]audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries[itemID]...), nil
}
