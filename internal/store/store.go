// Package store defines RevisionStore, the transactional persistence
// interface the conflict engine and revision tree model are built
// against, plus two concrete implementations: an in-memory store for
// tests and a SQLite-backed store for the CLI demo and integration tests.
//
// RevisionStore is specified as an external collaborator (see spec §1) —
// core replication and conflict-resolution semantics must not depend on
// which implementation backs them. Both implementations here satisfy the
// same Store interface so either can stand in during tests.
package store

import (
	"context"
	"fmt"

	"github.com/mobilesync/replicore/internal/revtree"
)

// ErrNotFound is returned when a lookup addresses a document or revision
// that the store has never seen.
var ErrNotFound = fmt.Errorf("store: not found")

// PutStatus reports what PutRevision actually did, mirroring the
// "&mut status" out-parameter named in spec §6's RevisionStore interface.
type PutStatus struct {
	Created        bool
	ConflictExists bool // true if the document had >=2 active revisions after this put
}

// Tx is the subset of Store operations that execute within a single
// transaction. All operations performed through a Tx share one underlying
// connection/lock and either all commit or all roll back together.
type Tx interface {
	PutRevision(ctx context.Context, rev revtree.Revision, parentRevID revtree.RevID, allowConflict bool, status *PutStatus) (revtree.Revision, error)
	ActiveRevisions(ctx context.Context, doc revtree.DocID) ([]revtree.Revision, error)
}

// Store is the transactional store of documents, revisions, and
// attachments consumed by the conflict engine (internal/conflict) and
// queried directly by internal/revtree-based read paths.
type Store interface {
	// ActiveRevisions returns the non-deleted leaf revisions of doc.
	ActiveRevisions(ctx context.Context, doc revtree.DocID) ([]revtree.Revision, error)

	// PutRevision inserts rev as a child of parentRevID (or as a root if
	// parentRevID is empty). If allowConflict is false and the document
	// already has an active revision other than parentRevID, the store
	// may reject the insert; the conflict engine always passes
	// allowConflict=true for tombstone inserts during collapse, since it
	// is intentionally creating an additional branch.
	//
	// If rev.Sequence is zero, the store allocates the next per-document
	// sequence number atomically with the insert; callers that already
	// know the sequence (migrations, tests seeding a tree) may set it
	// explicitly.
	PutRevision(ctx context.Context, rev revtree.Revision, parentRevID revtree.RevID, allowConflict bool, status *PutStatus) (revtree.Revision, error)

	// AttachmentsBySequence returns the attachments addressable at seq.
	AttachmentsBySequence(ctx context.Context, seq uint64) ([]revtree.AttachmentRef, error)

	// ConflictedDocumentIDs returns every document with >=2 active
	// revisions. Order is unspecified.
	ConflictedDocumentIDs(ctx context.Context) ([]revtree.DocID, error)

	// Transaction runs fn within a single transaction against the store.
	// Any error returned by fn rolls back the transaction; the same error
	// is returned to the caller unchanged.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// Close releases resources held by the store.
	Close() error
}
