// Package conflict implements the conflict resolution engine: enumerating
// conflicted documents, invoking a user-supplied resolver, and atomically
// collapsing a document's revision tree to a single winner.
//
// Grounded on the CouchDB/Cloudant "conflicts" pattern seen in
// patrickjuchli/couch (conflict.go: ConflictFor/SolveWith) and on the
// teacher's own 3-way merge tombstone handling in internal/merge — adapted
// here from "merge three JSONL snapshots" to "collapse N active DAG
// branches under a transactional store."
package conflict

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mobilesync/replicore/internal/revtree"
	"github.com/mobilesync/replicore/internal/store"
)

// ErrResolverNotFound is returned by Resolve when no resolver is supplied.
var ErrResolverNotFound = errors.New("conflict: no resolver supplied")

// InvalidResolverOutputError is returned when a resolver returns a
// revision that was not among the conflicting revisions it was given.
type InvalidResolverOutputError struct {
	DocID revtree.DocID
	RevID revtree.RevID
}

func (e *InvalidResolverOutputError) Error() string {
	return fmt.Sprintf("conflict: resolver for %s returned unknown revision %s", e.DocID, e.RevID)
}

// StoreError wraps a failure from the underlying transactional store. It
// is surfaced verbatim to callers of Resolve, per spec.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("conflict: store error: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Resolver decides which of a document's active (conflicting) revisions
// should remain. Returning nil means "do nothing" — the conflict persists.
// Returning a revision not present in conflicts is an error (see
// InvalidResolverOutputError).
type Resolver interface {
	Resolve(docID revtree.DocID, conflicts []revtree.RevisionView) (*revtree.RevisionView, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(docID revtree.DocID, conflicts []revtree.RevisionView) (*revtree.RevisionView, error)

func (f ResolverFunc) Resolve(docID revtree.DocID, conflicts []revtree.RevisionView) (*revtree.RevisionView, error) {
	return f(docID, conflicts)
}

// Engine resolves conflicts on documents held in a store.Store.
type Engine struct {
	store store.Store
}

// New constructs a conflict Engine over s.
func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// ConflictedDocumentIDs returns every DocID with >=2 active revisions.
// Order is unspecified; callers must not assume stability across calls.
func (e *Engine) ConflictedDocumentIDs(ctx context.Context) ([]revtree.DocID, error) {
	ids, err := e.store.ConflictedDocumentIDs(ctx)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	return ids, nil
}

// ConflictsSummary returns, for every conflicted document, the count of
// active (conflicting) revisions. It loads each document's active
// revisions through the store (bodies included) but invokes no resolver
// and writes nothing, mirroring couch.Database.ConflictsCount in
// patrickjuchli/couch.
func (e *Engine) ConflictsSummary(ctx context.Context) (map[revtree.DocID]int, error) {
	ids, err := e.ConflictedDocumentIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[revtree.DocID]int, len(ids))
	for _, id := range ids {
		active, err := e.store.ActiveRevisions(ctx, id)
		if err != nil {
			return nil, &StoreError{Err: err}
		}
		out[id] = len(active)
	}
	return out, nil
}

// Resolve resolves conflicts on a single document in one transaction. If
// the document has fewer than two active revisions, Resolve returns nil
// without invoking resolver. If resolver is nil, Resolve returns
// ErrResolverNotFound whenever there is actually a conflict to resolve
// (i.e. it is never invoked for a non-conflicted document either).
func (e *Engine) Resolve(ctx context.Context, doc revtree.DocID, resolver Resolver) error {
	active, err := e.store.ActiveRevisions(ctx, doc)
	if err != nil {
		return &StoreError{Err: err}
	}
	if len(active) < 2 {
		return nil
	}
	if resolver == nil {
		return ErrResolverNotFound
	}

	views := make([]revtree.RevisionView, len(active))
	for i, r := range active {
		views[i] = r.View()
	}

	winner, err := resolver.Resolve(doc, views)
	if err != nil {
		return fmt.Errorf("conflict: resolver returned error: %w", err)
	}
	if winner == nil {
		return nil // "do nothing" — conflict persists
	}

	winnerRev, ok := findByRevID(active, winner.RevID)
	if !ok {
		return &InvalidResolverOutputError{DocID: doc, RevID: winner.RevID}
	}

	err = e.store.Transaction(ctx, func(tx store.Tx) error {
		for _, r := range active {
			if r.RevID == winnerRev.RevID {
				continue
			}
			tombstone := revtree.Revision{
				DocID:      doc,
				RevID:      freshRevID(r.Generation + 1),
				Generation: r.Generation + 1,
				Deleted:    true,
				Body:       map[string]any{},
			}
			if _, err := tx.PutRevision(ctx, tombstone, r.RevID, true, nil); err != nil {
				return fmt.Errorf("insert tombstone for losing branch %s: %w", r.RevID, err)
			}
		}
		return nil
	})
	if err != nil {
		return &StoreError{Err: err}
	}
	return nil
}

// ResolveAll resolves every currently conflicted document with the
// same policy. It is sugar over repeated Resolve calls — no new
// semantics — mirroring looping over db.Conflicts() and calling
// c.SolveWith in patrickjuchli/couch. It stops at the first StoreError;
// an InvalidResolverOutputError for one document does not prevent
// resolution of the others, matching the fact that each Resolve call is
// independently transactional.
func (e *Engine) ResolveAll(ctx context.Context, resolver Resolver) (resolved []revtree.DocID, failed map[revtree.DocID]error, err error) {
	ids, err := e.ConflictedDocumentIDs(ctx)
	if err != nil {
		return nil, nil, err
	}
	failed = make(map[revtree.DocID]error)
	for _, id := range ids {
		if rerr := e.Resolve(ctx, id, resolver); rerr != nil {
			var se *StoreError
			if errors.As(rerr, &se) {
				return resolved, failed, rerr
			}
			failed[id] = rerr
			continue
		}
		resolved = append(resolved, id)
	}
	return resolved, failed, nil
}

func findByRevID(revs []revtree.Revision, id revtree.RevID) (revtree.Revision, bool) {
	for _, r := range revs {
		if r.RevID == id {
			return r, true
		}
	}
	return revtree.Revision{}, false
}

// freshRevID synthesizes a new RevID at the given generation. CouchDB
// derives the suffix from a hash of the revision content; since a
// tombstone's content is fixed (empty, deleted), a random suffix is
// sufficient to guarantee uniqueness among siblings.
func freshRevID(generation int) revtree.RevID {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return revtree.RevID(fmt.Sprintf("%d-%s", generation, hex.EncodeToString(buf[:])))
}
