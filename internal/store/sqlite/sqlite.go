// Package sqlite is a SQLite-backed implementation of store.Store, using
// the teacher's own pure-Go, WASM-hosted driver (no cgo) — a good fit for
// a mobile-side replication engine. It backs the conflict engine in the
// replicatectl resolve command and is covered by its own store tests;
// RevisionStore itself remains an external interface per the
// specification.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mobilesync/replicore/internal/revtree"
	"github.com/mobilesync/replicore/internal/store"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer; matches the teacher's BEGIN IMMEDIATE discipline
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ActiveRevisions(ctx context.Context, doc revtree.DocID) ([]revtree.Revision, error) {
	return activeRevisions(ctx, s.db, doc)
}

func (s *Store) ConflictedDocumentIDs(ctx context.Context) ([]revtree.DocID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id FROM (
			SELECT r.doc_id, COUNT(*) AS n
			FROM revisions r
			WHERE r.deleted = 0
			  AND NOT EXISTS (
			      SELECT 1 FROM revisions c
			      WHERE c.doc_id = r.doc_id AND c.parent_rev_id = r.rev_id
			  )
			GROUP BY r.doc_id
		) WHERE n >= 2`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: conflicted document ids: %w", err)
	}
	defer rows.Close()

	var out []revtree.DocID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan conflicted doc id: %w", err)
		}
		out = append(out, revtree.DocID(id))
	}
	return out, rows.Err()
}

func (s *Store) AttachmentsBySequence(ctx context.Context, seq uint64) ([]revtree.AttachmentRef, error) {
	return attachmentsBySequence(ctx, s.db, seq)
}

func (s *Store) PutRevision(ctx context.Context, rev revtree.Revision, parentRevID revtree.RevID, allowConflict bool, status *store.PutStatus) (revtree.Revision, error) {
	var out revtree.Revision
	err := s.Transaction(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.PutRevision(ctx, rev, parentRevID, allowConflict, status)
		return err
	})
	return out, err
}

// Transaction runs fn in a single SQLite transaction, using BEGIN
// IMMEDIATE to take the write lock up front (the teacher's own
// internal/storage convention for avoiding deadlocks between competing
// writers).
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	if _, err := s.db.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("sqlite: begin immediate: %w", err)
	}

	tx := &sqlTx{ctx: ctx, db: s.db}
	if err := fn(tx); err != nil {
		if _, rbErr := s.db.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("sqlite: rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if _, err := s.db.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// sqlTx implements store.Tx. It deliberately uses the shared *sql.DB
// rather than a *sql.Tx: the single-connection pool (SetMaxOpenConns(1))
// plus the explicit BEGIN IMMEDIATE/COMMIT bracketing in Transaction give
// the same atomicity without fighting database/sql's Tx lifecycle across
// the Store/Tx split the spec requires.
type sqlTx struct {
	ctx context.Context
	db  *sql.DB
}

func (t *sqlTx) ActiveRevisions(ctx context.Context, doc revtree.DocID) ([]revtree.Revision, error) {
	return activeRevisions(ctx, t.db, doc)
}

func (t *sqlTx) PutRevision(ctx context.Context, rev revtree.Revision, parentRevID revtree.RevID, allowConflict bool, status *store.PutStatus) (revtree.Revision, error) {
	if !allowConflict && parentRevID != "" {
		active, err := activeRevisions(ctx, t.db, rev.DocID)
		if err != nil {
			return revtree.Revision{}, err
		}
		for _, a := range active {
			if a.RevID != parentRevID {
				return revtree.Revision{}, fmt.Errorf("sqlite: conflict inserting child of %s: %s is also active", parentRevID, a.RevID)
			}
		}
	}

	bodyJSON, err := json.Marshal(rev.Body)
	if err != nil {
		return revtree.Revision{}, fmt.Errorf("sqlite: marshal body: %w", err)
	}

	if rev.Sequence == 0 {
		seq, err := NextSequence(ctx, t.db, rev.DocID)
		if err != nil {
			return revtree.Revision{}, err
		}
		rev.Sequence = seq
	}

	deleted := 0
	if rev.Deleted {
		deleted = 1
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO revisions (doc_id, rev_id, generation, parent_rev_id, deleted, body, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(rev.DocID), string(rev.RevID), rev.Generation, string(parentRevID), deleted, string(bodyJSON), rev.Sequence)
	if err != nil {
		return revtree.Revision{}, fmt.Errorf("sqlite: insert revision: %w", err)
	}

	for _, att := range rev.Attachments {
		if _, err := t.db.ExecContext(ctx, `
			INSERT INTO attachments (sequence, filename, mime_type, length, rev_pos, encoding, encoded_length)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			att.Sequence, att.Filename, att.MimeType, att.Length, att.RevPos, att.Encoding, att.EncodedLength); err != nil {
			return revtree.Revision{}, fmt.Errorf("sqlite: insert attachment: %w", err)
		}
	}

	rev.Parent = parentRevID
	if status != nil {
		status.Created = true
		active, err := activeRevisions(ctx, t.db, rev.DocID)
		if err != nil {
			return revtree.Revision{}, err
		}
		status.ConflictExists = len(active) >= 2
	}
	return rev, nil
}

// NextSequence allocates the next per-document sequence number atomically
// within the caller's transaction.
func NextSequence(ctx context.Context, db *sql.DB, doc revtree.DocID) (uint64, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO doc_sequence (doc_id, next) VALUES (?, 2)
		ON CONFLICT(doc_id) DO UPDATE SET next = next + 1`, string(doc))
	if err != nil {
		return 0, fmt.Errorf("sqlite: allocate sequence: %w", err)
	}
	var next uint64
	if err := db.QueryRowContext(ctx, `SELECT next FROM doc_sequence WHERE doc_id = ?`, string(doc)).Scan(&next); err != nil {
		return 0, fmt.Errorf("sqlite: read allocated sequence: %w", err)
	}
	return next - 1, nil
}

func activeRevisions(ctx context.Context, db *sql.DB, doc revtree.DocID) ([]revtree.Revision, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.doc_id, r.rev_id, r.generation, r.parent_rev_id, r.deleted, r.body, r.sequence
		FROM revisions r
		WHERE r.doc_id = ? AND r.deleted = 0
		  AND NOT EXISTS (
		      SELECT 1 FROM revisions c
		      WHERE c.doc_id = r.doc_id AND c.parent_rev_id = r.rev_id
		  )`, string(doc))
	if err != nil {
		return nil, fmt.Errorf("sqlite: active revisions: %w", err)
	}
	defer rows.Close()

	var out []revtree.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func attachmentsBySequence(ctx context.Context, db *sql.DB, seq uint64) ([]revtree.AttachmentRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, filename, mime_type, length, rev_pos, encoding, encoded_length
		FROM attachments WHERE sequence = ?`, seq)
	if err != nil {
		return nil, fmt.Errorf("sqlite: attachments by sequence: %w", err)
	}
	defer rows.Close()

	var out []revtree.AttachmentRef
	for rows.Next() {
		var a revtree.AttachmentRef
		if err := rows.Scan(&a.Sequence, &a.Filename, &a.MimeType, &a.Length, &a.RevPos, &a.Encoding, &a.EncodedLength); err != nil {
			return nil, fmt.Errorf("sqlite: scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevision(rows rowScanner) (revtree.Revision, error) {
	var (
		docID, revID, parentRevID, bodyJSON string
		generation, deleted                 int
		sequence                            uint64
	)
	if err := rows.Scan(&docID, &revID, &generation, &parentRevID, &deleted, &bodyJSON, &sequence); err != nil {
		return revtree.Revision{}, fmt.Errorf("sqlite: scan revision: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
		return revtree.Revision{}, fmt.Errorf("sqlite: unmarshal body: %w", err)
	}
	return revtree.Revision{
		DocID:      revtree.DocID(docID),
		RevID:      revtree.RevID(revID),
		Generation: generation,
		Parent:     revtree.RevID(parentRevID),
		Deleted:    deleted != 0,
		Body:       body,
		Sequence:   sequence,
	}, nil
}
