// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sqliterepo implements custody.Repository on a SQLite
// database. It is the durable counterpart of the package custody
// in-memory repository: the same interface contract, with
// WithItemLock critical sections mapped onto SQL transactions so that
// a failing section rolls back without a trace.
//
// The store uses a single connection. SQLite allows one writer at a
// time anyway, and a single connection sidesteps "database is locked"
// errors without a retry loop.
package sqliterepo

import (
	"context"
	"database/sql"
	"encoding/json"
	goerrors "errors"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/evidentia/custody/audit"
	"github.com/evidentia/custody/cryptostore"
	"github.com/evidentia/custody/custody"
	"github.com/evidentia/custody/digest"
	"github.com/evidentia/custody/errors"
)

// Store is a SQLite-backed custody.Repository.
type Store struct {
	session
	db    *sql.DB
	locks custody.LockMap
}

var _ custody.Repository = (*Store)(nil)

// Open opens (creating if necessary) the SQLite database at path and
// applies pending migrations. Pass ":memory:" for an ephemeral
// database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E("open sqlite "+path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, errors.E("set busy_timeout", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, errors.E("enable foreign keys", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	s.session.q = db
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithItemLock implements custody.Repository. The critical section
// runs inside a SQL transaction; if fn returns an error the
// transaction is rolled back and none of fn's writes survive.
func (s *Store) WithItemLock(ctx context.Context, itemID string, fn func(tx custody.Tx) error) error {
	m := s.locks.Get(itemID)
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()
	sqltx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E("begin transaction", err)
	}
	if err := fn(&session{q: sqltx}); err != nil {
		if rbErr := sqltx.Rollback(); rbErr != nil {
			return errors.E("rollback failed: "+rbErr.Error(), err)
		}
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return errors.E("commit transaction", err)
	}
	return nil
}

// querier is the intersection of sql.DB and sql.Tx the session needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// session implements custody.Tx over either the database itself
// (autocommit reads) or an open transaction (WithItemLock sections).
type session struct {
	q querier
}

// PutItem implements custody.Tx.
func (s *session) PutItem(ctx context.Context, item *custody.Item) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO items (id, ref, agency, case_no, offense, item_no, badge_no,
			location, collected_at, description, created_by, custodian, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Ref, item.Agency, item.CaseNo, item.Offense, item.ItemNo,
		item.BadgeNo, item.Location, item.CollectedAt.UnixNano(), item.Description,
		item.CreatedBy, item.Custodian, item.CreatedAt.UnixNano())
	if isConstraint(err) {
		return errors.E(errors.Conflict, "custody: an item with the same id, reference, or case number already exists", err)
	}
	return err
}

const itemColumns = `id, ref, agency, case_no, offense, item_no, badge_no,
	location, collected_at, description, created_by, custodian, created_at`

func scanItem(row interface{ Scan(...interface{}) error }) (*custody.Item, error) {
	var (
		item                   custody.Item
		collectedAt, createdAt int64
	)
	err := row.Scan(&item.ID, &item.Ref, &item.Agency, &item.CaseNo, &item.Offense,
		&item.ItemNo, &item.BadgeNo, &item.Location, &collectedAt, &item.Description,
		&item.CreatedBy, &item.Custodian, &createdAt)
	if err != nil {
		return nil, err
	}
	item.CollectedAt = fromNanos(collectedAt)
	item.CreatedAt = fromNanos(createdAt)
	return &item, nil
}

// Item implements custody.Tx.
func (s *session) Item(ctx context.Context, itemID string) (*custody.Item, error) {
	item, err := scanItem(s.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID))
	if goerrors.Is(err, sql.ErrNoRows) {
		return nil, errors.E(errors.NotExist, "custody: no such item: "+itemID)
	}
	return item, err
}

// Items implements custody.Tx.
func (s *session) Items(ctx context.Context) ([]custody.Item, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []custody.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// SetCustodian implements custody.Tx.
func (s *session) SetCustodian(ctx context.Context, itemID, custodian string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE items SET custodian = ? WHERE id = ?`, custodian, itemID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.E(errors.NotExist, "custody: no such item: "+itemID)
	}
	return nil
}

// AddFile implements custody.Tx.
func (s *session) AddFile(ctx context.Context, f *custody.File) error {
	return s.insertFile(ctx, f, sql.NullString{})
}

func (s *session) insertFile(ctx context.Context, f *custody.File, analysisID sql.NullString) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO files (id, item_id, analysis_id, name, content_type, size,
			sha256, handle, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ItemID, analysisID, f.Name, f.ContentType, f.Size,
		f.SHA256.String(), string(f.Handle), f.CreatedAt.UnixNano())
	if isConstraint(err) {
		return errors.E(errors.Conflict, "custody: file "+f.ID+" already exists", err)
	}
	return err
}

const fileColumns = `id, item_id, name, content_type, size, sha256, handle, created_at`

func scanFile(row interface{ Scan(...interface{}) error }) (*custody.File, error) {
	var (
		f         custody.File
		sum       string
		handle    string
		createdAt int64
	)
	err := row.Scan(&f.ID, &f.ItemID, &f.Name, &f.ContentType, &f.Size,
		&sum, &handle, &createdAt)
	if err != nil {
		return nil, err
	}
	d, err := digest.Parse(sum)
	if err != nil {
		return nil, err
	}
	f.SHA256 = d
	f.Handle = cryptostore.Handle(handle)
	f.CreatedAt = fromNanos(createdAt)
	return &f, nil
}

// File implements custody.Tx.
func (s *session) File(ctx context.Context, itemID, fileID string) (*custody.File, error) {
	f, err := scanFile(s.q.QueryRowContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE id = ? AND item_id = ? AND analysis_id IS NULL`, fileID, itemID))
	if goerrors.Is(err, sql.ErrNoRows) {
		return nil, errors.E(errors.NotExist, "custody: item "+itemID+" has no file "+fileID)
	}
	return f, err
}

// Files implements custody.Tx.
func (s *session) Files(ctx context.Context, itemID string) ([]custody.File, error) {
	return s.queryFiles(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE item_id = ? AND analysis_id IS NULL
		ORDER BY created_at, id`, itemID)
}

func (s *session) queryFiles(ctx context.Context, query string, args ...interface{}) ([]custody.File, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []custody.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// PutTransfer implements custody.Tx.
func (s *session) PutTransfer(ctx context.Context, tr *custody.Transfer) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transfers (id, item_id, from_id, to_id, reason, status,
			requested_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		tr.ID, tr.ItemID, tr.From, tr.To, tr.Reason, string(tr.Status),
		tr.RequestedAt.UnixNano())
	if isConstraint(err) {
		return errors.E(errors.Conflict, "custody: a pending transfer already exists for item "+tr.ItemID, err)
	}
	return err
}

const transferColumns = `id, item_id, from_id, to_id, reason, status, requested_at, resolved_at`

func scanTransfer(row interface{ Scan(...interface{}) error }) (*custody.Transfer, error) {
	var (
		tr          custody.Transfer
		status      string
		requestedAt int64
		resolvedAt  sql.NullInt64
	)
	err := row.Scan(&tr.ID, &tr.ItemID, &tr.From, &tr.To, &tr.Reason,
		&status, &requestedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	tr.Status = custody.TransferStatus(status)
	tr.RequestedAt = fromNanos(requestedAt)
	if resolvedAt.Valid {
		tr.ResolvedAt = fromNanos(resolvedAt.Int64)
	}
	return &tr, nil
}

// Transfer implements custody.Tx.
func (s *session) Transfer(ctx context.Context, transferID string) (*custody.Transfer, error) {
	tr, err := scanTransfer(s.q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ?`, transferID))
	if goerrors.Is(err, sql.ErrNoRows) {
		return nil, errors.E(errors.NotExist, "custody: no such transfer: "+transferID)
	}
	return tr, err
}

// PendingTransfer implements custody.Tx.
func (s *session) PendingTransfer(ctx context.Context, itemID string) (*custody.Transfer, error) {
	tr, err := scanTransfer(s.q.QueryRowContext(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE item_id = ? AND status = ?`, itemID, string(custody.Pending)))
	if goerrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tr, err
}

// Transfers implements custody.Tx.
func (s *session) Transfers(ctx context.Context, itemID string) ([]custody.Transfer, error) {
	return s.queryTransfers(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE item_id = ?
		ORDER BY requested_at, id`, itemID)
}

// TransfersTo implements custody.Tx.
func (s *session) TransfersTo(ctx context.Context, identity string) ([]custody.Transfer, error) {
	return s.queryTransfers(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE to_id = ? AND status = ?
		ORDER BY requested_at, id`, identity, string(custody.Pending))
}

// TransfersFrom implements custody.Tx.
func (s *session) TransfersFrom(ctx context.Context, identity string) ([]custody.Transfer, error) {
	return s.queryTransfers(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE from_id = ? AND status = ?
		ORDER BY requested_at, id`, identity, string(custody.Pending))
}

func (s *session) queryTransfers(ctx context.Context, query string, args ...interface{}) ([]custody.Transfer, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transfers []custody.Transfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *tr)
	}
	return transfers, rows.Err()
}

// SetTransferStatus implements custody.Tx.
func (s *session) SetTransferStatus(ctx context.Context, transferID string, status custody.TransferStatus) error {
	var resolvedAt sql.NullInt64
	if status.Terminal() {
		resolvedAt = sql.NullInt64{Int64: time.Now().UTC().UnixNano(), Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE transfers SET status = ?, resolved_at = ? WHERE id = ?`,
		string(status), resolvedAt, transferID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.E(errors.NotExist, "custody: no such transfer: "+transferID)
	}
	return nil
}

// AddAnalysis implements custody.Tx.
func (s *session) AddAnalysis(ctx context.Context, a *custody.Analysis) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO analyses (id, item_id, analyst, role, place, description,
			analyzed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ItemID, a.Analyst, a.Role, a.Place, a.Description,
		a.AnalyzedAt.UnixNano(), a.CreatedAt.UnixNano())
	if isConstraint(err) {
		return errors.E(errors.Conflict, "custody: analysis "+a.ID+" already exists", err)
	}
	if err != nil {
		return err
	}
	analysisID := sql.NullString{String: a.ID, Valid: true}
	for i := range a.Files {
		if err := s.insertFile(ctx, &a.Files[i], analysisID); err != nil {
			return err
		}
	}
	return nil
}

// Analyses implements custody.Tx.
func (s *session) Analyses(ctx context.Context, itemID string) ([]custody.Analysis, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, item_id, analyst, role, place, description, analyzed_at, created_at
		FROM analyses WHERE item_id = ? ORDER BY created_at, id`, itemID)
	if err != nil {
		return nil, err
	}
	var analyses []custody.Analysis
	for rows.Next() {
		var (
			a                     custody.Analysis
			analyzedAt, createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Analyst, &a.Role, &a.Place,
			&a.Description, &analyzedAt, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		a.AnalyzedAt = fromNanos(analyzedAt)
		a.CreatedAt = fromNanos(createdAt)
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range analyses {
		files, err := s.queryFiles(ctx, `
			SELECT `+fileColumns+` FROM files
			WHERE analysis_id = ? ORDER BY created_at, id`, analyses[i].ID)
		if err != nil {
			return nil, err
		}
		analyses[i].Files = files
	}
	return analyses, nil
}

// TailEntry implements audit.Ledger.
func (s *session) TailEntry(ctx context.Context, itemID string) (*audit.Entry, error) {
	e, err := scanEntry(s.q.QueryRowContext(ctx, `
		SELECT item_id, seq, actor, action, details, ts, prev_hash, hash
		FROM audit_entries WHERE item_id = ? ORDER BY seq DESC LIMIT 1`, itemID))
	if goerrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// AppendEntry implements audit.Ledger.
func (s *session) AppendEntry(ctx context.Context, e *audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_entries (item_id, seq, actor, action, details, ts, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ItemID, e.Seq, e.Actor, string(e.Action), string(details),
		e.Time.Unix(), e.PrevHash, e.Hash)
	if isConstraint(err) {
		return errors.E(errors.Conflict, "custody: audit entry already exists at that sequence number", err)
	}
	return err
}

// Entries implements audit.Ledger.
func (s *session) Entries(ctx context.Context, itemID string) ([]audit.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT item_id, seq, actor, action, details, ts, prev_hash, hash
		FROM audit_entries WHERE item_id = ? ORDER BY seq`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row interface{ Scan(...interface{}) error }) (*audit.Entry, error) {
	var (
		e       audit.Entry
		action  string
		details string
		ts      int64
	)
	err := row.Scan(&e.ItemID, &e.Seq, &e.Actor, &action, &details, &ts,
		&e.PrevHash, &e.Hash)
	if err != nil {
		return nil, err
	}
	e.Action = audit.Action(action)
	if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
		return nil, err
	}
	e.Time = time.Unix(ts, 0).UTC()
	return &e, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// isConstraint tells whether err is a SQLite constraint violation
// (unique, foreign key, and the like).
func isConstraint(err error) bool {
	var se *sqlite.Error
	return goerrors.As(err, &se) && se.Code()&0xff == 19
}
