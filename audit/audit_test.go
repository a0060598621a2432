// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package audit_test

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/evidentia/custody/audit"
	"github.com/evidentia/custody/errors"
)

// memLedger is a minimal in-memory Ledger for exercising Chain.
type memLedger struct {
	entries map[string][]audit.Entry
}

func newMemLedger() *memLedger {
	return &memLedger{entries: map[string][]audit.Entry{}}
}

func (l *memLedger) TailEntry(_ context.Context, itemID string) (*audit.Entry, error) {
	chain := l.entries[itemID]
	if len(chain) == 0 {
		return nil, nil
	}
	tail := chain[len(chain)-1]
	return &tail, nil
}

func (l *memLedger) AppendEntry(_ context.Context, e *audit.Entry) error {
	l.entries[e.ItemID] = append(l.entries[e.ItemID], *e)
	return nil
}

func (l *memLedger) Entries(_ context.Context, itemID string) ([]audit.Entry, error) {
	chain := l.entries[itemID]
	out := make([]audit.Entry, len(chain))
	copy(out, chain)
	return out, nil
}

// The canonical encoding is a wire format; this golden digest pins
// version 1. If this test breaks, previously written chains can no
// longer be verified.
func TestCanonicalEncodingGolden(t *testing.T) {
	e := audit.Entry{
		Seq:     1,
		ItemID:  "EV-1",
		Actor:   "alice",
		Action:  audit.Created,
		Details: []audit.Detail{audit.D("case", "C-100")},
		Time:    time.Unix(1700000000, 0).UTC(),
	}
	if got, want := audit.ComputeEntryHash(e), "4049aaabd994b03c1763a14c4686f633a94e5068506610523b95ff25058cd877"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeEntryHashFieldSensitivity(t *testing.T) {
	base := audit.Entry{
		Seq:      3,
		ItemID:   "EV-1",
		Actor:    "alice",
		Action:   audit.TransferRequested,
		Details:  []audit.Detail{audit.D("to", "bob"), audit.D("reason", "lab work")},
		Time:     time.Unix(1700000000, 0).UTC(),
		PrevHash: "aa",
	}
	want := audit.ComputeEntryHash(base)
	for name, mutate := range map[string]func(*audit.Entry){
		"seq":      func(e *audit.Entry) { e.Seq = 4 },
		"item":     func(e *audit.Entry) { e.ItemID = "EV-2" },
		"actor":    func(e *audit.Entry) { e.Actor = "mallory" },
		"action":   func(e *audit.Entry) { e.Action = audit.TransferAccepted },
		"details":  func(e *audit.Entry) { e.Details[1].Value = "personal" },
		"time":     func(e *audit.Entry) { e.Time = e.Time.Add(time.Second) },
		"prevhash": func(e *audit.Entry) { e.PrevHash = "ab" },
	} {
		e := base
		e.Details = append([]audit.Detail(nil), base.Details...)
		mutate(&e)
		if audit.ComputeEntryHash(e) == want {
			t.Errorf("mutating %s did not change the hash", name)
		}
	}
}

func TestAppendLinksChain(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	chain := audit.NewChain(ledger)
	const n = 10
	var prev string
	for i := 0; i < n; i++ {
		e, err := chain.Append(ctx, "EV-1", "alice", audit.FileAdded, []audit.Detail{
			audit.D("file", fmt.Sprintf("report-%d.pdf", i)),
		})
		if err != nil {
			t.Fatal(err)
		}
		if got, want := e.Seq, int64(i+1); got != want {
			t.Errorf("got seq %v, want %v", got, want)
		}
		if got, want := e.PrevHash, prev; got != want {
			t.Errorf("got prev hash %q, want %q", got, want)
		}
		prev = e.Hash
	}
	if err := chain.Verify(ctx, "EV-1"); err != nil {
		t.Errorf("chain should verify: %v", err)
	}
	// Chains are per item: another item's chain is independent.
	if err := chain.Verify(ctx, "EV-2"); err != nil {
		t.Errorf("empty chain should verify: %v", err)
	}
}

func TestAppendRejectsUnknownAction(t *testing.T) {
	ctx := context.Background()
	chain := audit.NewChain(newMemLedger())
	if _, err := chain.Append(ctx, "EV-1", "alice", audit.Action("REWRITTEN"), nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
}

func TestVerifyReportsFirstDivergence(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	chain := audit.NewChain(ledger)
	for i := 0; i < 5; i++ {
		if _, err := chain.Append(ctx, "EV-1", "alice", audit.FileAdded, []audit.Detail{
			audit.D("file", fmt.Sprintf("f%d", i)),
		}); err != nil {
			t.Fatal(err)
		}
	}
	for target := int64(1); target <= 5; target++ {
		entries := append([]audit.Entry(nil), ledger.entries["EV-1"]...)
		entries[target-1].Details = []audit.Detail{audit.D("file", "forged")}
		tamper := audit.VerifyEntries("EV-1", entries)
		if tamper == nil {
			t.Fatalf("mutation of entry %d went undetected", target)
		}
		if got, want := tamper.Seq, target; got != want {
			t.Errorf("got first divergence at %v, want %v", got, want)
		}
	}
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	chain := audit.NewChain(ledger)
	for i := 0; i < 3; i++ {
		if _, err := chain.Append(ctx, "EV-1", "alice", audit.FileAdded, nil); err != nil {
			t.Fatal(err)
		}
	}
	// Rewriting an entry consistently (hash recomputed) still breaks
	// the next entry's previous-hash link.
	forged := ledger.entries["EV-1"][1]
	forged.Actor = "mallory"
	forged.Hash = audit.ComputeEntryHash(forged)
	ledger.entries["EV-1"][1] = forged

	err := chain.Verify(ctx, "EV-1")
	if !errors.Is(errors.Tampered, err) {
		t.Fatalf("got %v, want Tampered", err)
	}
	var tamper *audit.TamperError
	if !goerrors.As(err, &tamper) {
		t.Fatalf("error %v should wrap a TamperError", err)
	}
	if got, want := tamper.Seq, int64(3); got != want {
		t.Errorf("got divergence at %v, want %v", got, want)
	}
}

func TestVerifyDetectsDeletion(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	chain := audit.NewChain(ledger)
	for i := 0; i < 3; i++ {
		if _, err := chain.Append(ctx, "EV-1", "alice", audit.FileAdded, nil); err != nil {
			t.Fatal(err)
		}
	}
	// Drop the middle entry.
	ledger.entries["EV-1"] = append(ledger.entries["EV-1"][:1], ledger.entries["EV-1"][2:]...)
	var tamper *audit.TamperError
	if err := chain.Verify(ctx, "EV-1"); !goerrors.As(err, &tamper) {
		t.Fatalf("got %v, want TamperError", err)
	}
	if got, want := tamper.Seq, int64(2); got != want {
		t.Errorf("got divergence at %v, want %v", got, want)
	}
}
