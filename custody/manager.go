// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package custody records the life cycle of evidence items as they
// move between custodians. The Manager is the top-level component:
// it orchestrates evidence creation, the two-party custody-transfer
// handshake, and download authorization, and it enforces the
// invariant that custody state and the audit chain never diverge.
// Every state-changing operation runs under its item's exclusive
// repository lock and, inside one atomic effect set, mutates custody
// state, appends one hash-linked audit entry, and leaves file
// encryption untouched. Audit entries are appended only for
// operations that commit: the chain is a faithful history, not a log
// of attempts.
//
// The Manager trusts that its caller has already been authenticated
// and passed the application's coarse role check; it re-checks only
// the relationships intrinsic to the state machine itself, such as
// whether the actor is the item's current custodian.
package custody

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/evidentia/custody/audit"
	"github.com/evidentia/custody/cryptostore"
	"github.com/evidentia/custody/digest"
	"github.com/evidentia/custody/errors"
	"github.com/evidentia/custody/log"
)

// Policy controls which uploads a Manager accepts.
type Policy struct {
	// MaxFileSize is the largest accepted plaintext size in bytes.
	MaxFileSize int64
	// AllowedContentTypes lists the accepted declared media types.
	AllowedContentTypes []string
}

// DefaultPolicy matches the defaults of the original deployment.
var DefaultPolicy = Policy{
	MaxFileSize: 25 << 20,
	AllowedContentTypes: []string{
		"application/pdf",
		"image/jpeg",
		"image/png",
		"text/plain",
	},
}

func (p Policy) check(u Upload) error {
	if u.Name == "" {
		return errors.E(errors.Invalid, "custody: upload has no filename")
	}
	if int64(len(u.Data)) > p.MaxFileSize {
		return errors.E(errors.Invalid, fmt.Sprintf("custody: file %s exceeds maximum size of %d bytes", u.Name, p.MaxFileSize))
	}
	for _, t := range p.AllowedContentTypes {
		if u.ContentType == t {
			return nil
		}
	}
	return errors.E(errors.Invalid, "custody: file type "+u.ContentType+" not allowed")
}

// Metadata is the immutable case metadata supplied at item creation.
type Metadata struct {
	Agency      string
	CaseNo      string
	Offense     string
	ItemNo      string
	BadgeNo     string
	Location    string
	CollectedAt time.Time
	Description string
}

func (m Metadata) validate() error {
	for _, f := range []struct{ name, value string }{
		{"agency", m.Agency},
		{"case number", m.CaseNo},
		{"offense", m.Offense},
		{"item number", m.ItemNo},
		{"badge number", m.BadgeNo},
		{"location", m.Location},
		{"description", m.Description},
	} {
		if f.value == "" {
			return errors.E(errors.Invalid, "custody: metadata is missing "+f.name)
		}
	}
	if m.CollectedAt.IsZero() {
		return errors.E(errors.Invalid, "custody: metadata is missing collection time")
	}
	return nil
}

// Upload is one file supplied to Create, AddFile, or AddAnalysis.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
	// Declared is the digest the uploader claims for Data. When
	// non-zero it must match the recomputed digest; the recorded
	// digest is always the recomputed one.
	Declared digest.Digest
}

// AnalysisRequest describes an examination report to attach to an
// item.
type AnalysisRequest struct {
	Role        string
	Place       string
	Description string
	AnalyzedAt  time.Time
	Files       []Upload
}

// Manager orchestrates all custody-affecting operations. It is safe
// for concurrent use; operations on distinct items proceed fully in
// parallel.
type Manager struct {
	repo   Repository
	files  *cryptostore.Store
	policy Policy
}

// NewManager returns a Manager over the given repository and
// encrypted file store.
func NewManager(repo Repository, files *cryptostore.Store, policy Policy) *Manager {
	return &Manager{repo: repo, files: files, policy: policy}
}

// Create creates a new evidence item with the actor as initial
// custodian of the supplied files, which are encrypted at rest. At
// least one file is required. Any declared digest must match the
// recomputed one. The item's first audit entry records the creation
// together with every file's name and digest.
func (m *Manager) Create(ctx context.Context, actor string, meta Metadata, uploads []Upload) (*Item, error) {
	if actor == "" {
		return nil, errors.E(errors.Invalid, "custody: no actor supplied")
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, errors.E(errors.Invalid, "custody: at least one file is required")
	}
	for _, u := range uploads {
		if err := m.policy.check(u); err != nil {
			return nil, err
		}
		if err := checkDeclared(u); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	item := &Item{
		ID:          uuid.NewString(),
		Ref:         meta.Agency + "-" + meta.CaseNo + "-" + meta.ItemNo,
		Agency:      meta.Agency,
		CaseNo:      meta.CaseNo,
		Offense:     meta.Offense,
		ItemNo:      meta.ItemNo,
		BadgeNo:     meta.BadgeNo,
		Location:    meta.Location,
		CollectedAt: meta.CollectedAt.UTC(),
		Description: meta.Description,
		CreatedBy:   actor,
		Custodian:   actor,
		CreatedAt:   now,
	}

	// Encrypt before taking the lock: blob writes are not part of
	// the item's atomic effect set, and a blob without a file record
	// is unreachable.
	fileRecords, details, err := m.encryptUploads(ctx, item.ID, now, uploads)
	if err != nil {
		return nil, err
	}

	err = m.repo.WithItemLock(ctx, item.ID, func(tx Tx) error {
		if err := tx.PutItem(ctx, item); err != nil {
			return err
		}
		for i := range fileRecords {
			if err := tx.AddFile(ctx, &fileRecords[i]); err != nil {
				return err
			}
		}
		entryDetails := append([]audit.Detail{
			audit.D("ref", item.Ref),
			audit.D("created_by", actor),
		}, details...)
		_, err := audit.NewChain(tx).Append(ctx, item.ID, actor, audit.Created, entryDetails)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("custody: created item %s (%s) with %d file(s)", item.ID, item.Ref, len(fileRecords))
	return item, nil
}

// AddFile encrypts and attaches one more file to an existing item.
// Only the current custodian may add files; files are immutable and
// never replaced.
func (m *Manager) AddFile(ctx context.Context, actor, itemID string, upload Upload) (*File, error) {
	if err := m.policy.check(upload); err != nil {
		return nil, err
	}
	if err := checkDeclared(upload); err != nil {
		return nil, err
	}
	var file *File
	err := m.repo.WithItemLock(ctx, itemID, func(tx Tx) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Custodian != actor {
			return errors.E(errors.NotAllowed, "custody: only the current custodian may add files")
		}
		records, details, err := m.encryptUploads(ctx, itemID, time.Now().UTC(), []Upload{upload})
		if err != nil {
			return err
		}
		file = &records[0]
		if err := tx.AddFile(ctx, file); err != nil {
			return err
		}
		_, err = audit.NewChain(tx).Append(ctx, itemID, actor, audit.FileAdded, details)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// RequestTransfer opens a custody handoff of the item from the actor
// to another identity. Only the current custodian may request one,
// the recipient must differ from the actor, and at most one pending
// transfer may exist per item.
func (m *Manager) RequestTransfer(ctx context.Context, actor, itemID, to, reason string) (*Transfer, error) {
	if to == "" {
		return nil, errors.E(errors.Invalid, "custody: no recipient supplied")
	}
	if reason == "" {
		return nil, errors.E(errors.Invalid, "custody: no transfer reason supplied")
	}
	if to == actor {
		return nil, errors.E(errors.Invalid, "custody: cannot transfer an item to its current custodian")
	}
	var transfer *Transfer
	err := m.repo.WithItemLock(ctx, itemID, func(tx Tx) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Custodian != actor {
			return errors.E(errors.NotAllowed, "custody: only the current custodian may request a transfer")
		}
		pending, err := tx.PendingTransfer(ctx, itemID)
		if err != nil {
			return err
		}
		if pending != nil {
			return errors.E(errors.Conflict, "custody: a pending transfer already exists for item "+itemID)
		}
		transfer = &Transfer{
			ID:          uuid.NewString(),
			ItemID:      itemID,
			From:        actor,
			To:          to,
			Reason:      reason,
			Status:      Pending,
			RequestedAt: time.Now().UTC(),
		}
		if err := tx.PutTransfer(ctx, transfer); err != nil {
			return err
		}
		_, err = audit.NewChain(tx).Append(ctx, itemID, actor, audit.TransferRequested, []audit.Detail{
			audit.D("transfer_id", transfer.ID),
			audit.D("from", actor),
			audit.D("to", to),
			audit.D("reason", reason),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// AcceptTransfer completes a pending handoff: the recipient becomes
// the item's custodian. The status change, the custody change, and
// the audit entry commit atomically; no observer can see the
// transfer accepted while custody still names the old custodian, or
// vice versa.
func (m *Manager) AcceptTransfer(ctx context.Context, actor, transferID string) (*Transfer, error) {
	return m.resolveTransfer(ctx, actor, transferID, Accepted)
}

// RejectTransfer declines a pending handoff. Custody does not change.
func (m *Manager) RejectTransfer(ctx context.Context, actor, transferID string) (*Transfer, error) {
	return m.resolveTransfer(ctx, actor, transferID, Rejected)
}

// CancelTransfer withdraws a pending handoff by its requester.
// Custody does not change.
func (m *Manager) CancelTransfer(ctx context.Context, actor, transferID string) (*Transfer, error) {
	return m.resolveTransfer(ctx, actor, transferID, Cancelled)
}

func (m *Manager) resolveTransfer(ctx context.Context, actor, transferID string, status TransferStatus) (*Transfer, error) {
	// The transfer's item is needed to take the right lock; the
	// transfer is re-read under the lock before any decision.
	peek, err := m.repo.Transfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	var transfer *Transfer
	err = m.repo.WithItemLock(ctx, peek.ItemID, func(tx Tx) error {
		tr, err := tx.Transfer(ctx, transferID)
		if err != nil {
			return err
		}
		var action audit.Action
		switch status {
		case Accepted:
			action = audit.TransferAccepted
			if tr.To != actor {
				return errors.E(errors.NotAllowed, "custody: only the recipient may accept a transfer")
			}
		case Rejected:
			action = audit.TransferRejected
			if tr.To != actor {
				return errors.E(errors.NotAllowed, "custody: only the recipient may reject a transfer")
			}
		case Cancelled:
			action = audit.TransferCancelled
			if tr.From != actor {
				return errors.E(errors.NotAllowed, "custody: only the requester may cancel a transfer")
			}
		default:
			return errors.E(errors.Invalid, "custody: "+string(status)+" is not a terminal transfer status")
		}
		if tr.Status != Pending {
			return errors.E(errors.State, "custody: transfer is not pending (status: "+string(tr.Status)+")")
		}
		if err := tx.SetTransferStatus(ctx, transferID, status); err != nil {
			return err
		}
		if status == Accepted {
			if err := tx.SetCustodian(ctx, tr.ItemID, actor); err != nil {
				return err
			}
		}
		if _, err := audit.NewChain(tx).Append(ctx, tr.ItemID, actor, action, []audit.Detail{
			audit.D("transfer_id", tr.ID),
			audit.D("from", tr.From),
			audit.D("to", tr.To),
			audit.D("reason", tr.Reason),
		}); err != nil {
			return err
		}
		// Return the stored row so ResolvedAt matches what the
		// repository recorded.
		transfer, err = tx.Transfer(ctx, transferID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// AuthorizeDownload checks that the actor is the current custodian of
// the item owning the file and records the download in the audit
// chain before returning the file's blob handle. The download is
// itself a custody-relevant event.
func (m *Manager) AuthorizeDownload(ctx context.Context, actor, itemID, fileID string) (cryptostore.Handle, error) {
	var handle cryptostore.Handle
	err := m.repo.WithItemLock(ctx, itemID, func(tx Tx) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		file, err := tx.File(ctx, itemID, fileID)
		if err != nil {
			return err
		}
		if item.Custodian != actor {
			return errors.E(errors.NotAllowed, "custody: only the current custodian may download files")
		}
		if _, err := audit.NewChain(tx).Append(ctx, itemID, actor, audit.FileDownloaded, []audit.Detail{
			audit.D("file_id", file.ID),
			audit.D("file", file.Name),
			audit.D("sha256", file.SHA256.String()),
		}); err != nil {
			return err
		}
		handle = file.Handle
		return nil
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// Download authorizes the download, decrypts the file, and verifies
// the plaintext against the digest recorded at upload. A mismatch is
// an Integrity error: decrypted bytes are returned only when both the
// cipher's authentication and the recorded digest agree.
func (m *Manager) Download(ctx context.Context, actor, itemID, fileID string) ([]byte, *File, error) {
	handle, err := m.AuthorizeDownload(ctx, actor, itemID, fileID)
	if err != nil {
		return nil, nil, err
	}
	file, err := m.repo.File(ctx, itemID, fileID)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := m.files.Decrypt(ctx, handle)
	if err != nil {
		if errors.Is(errors.Integrity, err) {
			log.Error.Printf("custody: integrity failure decrypting file %s of item %s: %v", fileID, itemID, err)
		}
		return nil, nil, err
	}
	if got := digest.Compute(plaintext); got != file.SHA256 {
		log.Error.Printf("custody: file %s of item %s does not match its recorded digest", fileID, itemID)
		return nil, nil, errors.E(errors.Integrity, "custody: file "+file.Name+" does not match its recorded digest")
	}
	return plaintext, file, nil
}

// AddAnalysis attaches an examination report to the item. Only the
// current custodian may record one.
func (m *Manager) AddAnalysis(ctx context.Context, actor, itemID string, req AnalysisRequest) (*Analysis, error) {
	if req.Description == "" {
		return nil, errors.E(errors.Invalid, "custody: analysis has no description")
	}
	if req.AnalyzedAt.IsZero() {
		return nil, errors.E(errors.Invalid, "custody: analysis has no analysis time")
	}
	for _, u := range req.Files {
		if err := m.policy.check(u); err != nil {
			return nil, err
		}
		if err := checkDeclared(u); err != nil {
			return nil, err
		}
	}
	var analysis *Analysis
	err := m.repo.WithItemLock(ctx, itemID, func(tx Tx) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Custodian != actor {
			return errors.E(errors.NotAllowed, "custody: only the current custodian may add an analysis")
		}
		now := time.Now().UTC()
		records, fileDetails, err := m.encryptUploads(ctx, itemID, now, req.Files)
		if err != nil {
			return err
		}
		analysis = &Analysis{
			ID:          uuid.NewString(),
			ItemID:      itemID,
			Analyst:     actor,
			Role:        req.Role,
			Place:       req.Place,
			Description: req.Description,
			AnalyzedAt:  req.AnalyzedAt.UTC(),
			CreatedAt:   now,
			Files:       records,
		}
		if err := tx.AddAnalysis(ctx, analysis); err != nil {
			return err
		}
		details := append([]audit.Detail{
			audit.D("analysis_id", analysis.ID),
			audit.D("analyst", actor),
			audit.D("files", strconv.Itoa(len(records))),
		}, fileDetails...)
		_, err = audit.NewChain(tx).Append(ctx, itemID, actor, audit.AnalysisAdded, details)
		return err
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// Item returns one item.
func (m *Manager) Item(ctx context.Context, itemID string) (*Item, error) {
	return m.repo.Item(ctx, itemID)
}

// Items returns all items in creation order.
func (m *Manager) Items(ctx context.Context) ([]Item, error) {
	return m.repo.Items(ctx)
}

// Files returns the item's files in creation order.
func (m *Manager) Files(ctx context.Context, itemID string) ([]File, error) {
	if _, err := m.repo.Item(ctx, itemID); err != nil {
		return nil, err
	}
	return m.repo.Files(ctx, itemID)
}

// Analyses returns the item's analyses in creation order.
func (m *Manager) Analyses(ctx context.Context, itemID string) ([]Analysis, error) {
	if _, err := m.repo.Item(ctx, itemID); err != nil {
		return nil, err
	}
	return m.repo.Analyses(ctx, itemID)
}

// History returns the item's audit chain in sequence order.
func (m *Manager) History(ctx context.Context, itemID string) ([]audit.Entry, error) {
	if _, err := m.repo.Item(ctx, itemID); err != nil {
		return nil, err
	}
	return m.repo.Entries(ctx, itemID)
}

// Transfers returns all of the item's transfers, pending and
// terminal, in request order.
func (m *Manager) Transfers(ctx context.Context, itemID string) ([]Transfer, error) {
	if _, err := m.repo.Item(ctx, itemID); err != nil {
		return nil, err
	}
	return m.repo.Transfers(ctx, itemID)
}

// PendingTo returns pending transfers addressed to the identity.
func (m *Manager) PendingTo(ctx context.Context, identity string) ([]Transfer, error) {
	return m.repo.TransfersTo(ctx, identity)
}

// PendingFrom returns pending transfers requested by the identity.
func (m *Manager) PendingFrom(ctx context.Context, identity string) ([]Transfer, error) {
	return m.repo.TransfersFrom(ctx, identity)
}

// VerifyChain verifies the item's audit chain, returning an error of
// kind Tampered naming the first divergent sequence number if the
// stored history has been altered. Findings are logged at high
// severity and never repaired.
func (m *Manager) VerifyChain(ctx context.Context, itemID string) error {
	if _, err := m.repo.Item(ctx, itemID); err != nil {
		return err
	}
	if err := audit.NewChain(m.repo).Verify(ctx, itemID); err != nil {
		if errors.Is(errors.Tampered, err) {
			log.Error.Printf("custody: %v", err)
		}
		return err
	}
	return nil
}

func checkDeclared(u Upload) error {
	if u.Declared.IsZero() {
		return nil
	}
	if got := digest.Compute(u.Data); got != u.Declared {
		return errors.E(errors.Integrity, "custody: declared digest for "+u.Name+" does not match file contents")
	}
	return nil
}

// encryptUploads seals each upload and returns its file record along
// with audit details naming every file and digest.
func (m *Manager) encryptUploads(ctx context.Context, itemID string, now time.Time, uploads []Upload) ([]File, []audit.Detail, error) {
	records := make([]File, 0, len(uploads))
	var details []audit.Detail
	for _, u := range uploads {
		handle, sum, err := m.files.Encrypt(ctx, u.Data)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, File{
			ID:          uuid.NewString(),
			ItemID:      itemID,
			Name:        u.Name,
			ContentType: u.ContentType,
			Size:        int64(len(u.Data)),
			SHA256:      sum,
			Handle:      handle,
			CreatedAt:   now,
		})
		details = append(details,
			audit.D("file", u.Name),
			audit.D("sha256", sum.String()),
		)
	}
	return records, details, nil
}
