package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/mobilesync/replicore/internal/revtree"
)

// MemStore is an in-memory Store, built directly on revtree.Tree plus an
// attachment index. It adds no third-party dependency beyond the LRU cache
// revtree.Tree already uses, and exists for fast, hermetic unit tests;
// internal/revtree.Tree already does the
// concurrency-safe bookkeeping, so MemStore only adds attachment storage
// and a single mutex serializing "transactions" (there is no separate
// connection to contend for in-memory, but the mutex still gives callers
// the same atomicity guarantee a real backend provides).
type MemStore struct {
	mu          sync.Mutex
	tree        *revtree.Tree
	attachments map[uint64][]revtree.AttachmentRef
	seqCounters map[revtree.DocID]uint64
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tree:        revtree.New(),
		attachments: make(map[uint64][]revtree.AttachmentRef),
		seqCounters: make(map[revtree.DocID]uint64),
	}
}

func (m *MemStore) ActiveRevisions(_ context.Context, doc revtree.DocID) ([]revtree.Revision, error) {
	return m.tree.ActiveRevisions(doc), nil
}

func (m *MemStore) ConflictedDocumentIDs(_ context.Context) ([]revtree.DocID, error) {
	return m.tree.ConflictedDocumentIDs(), nil
}

func (m *MemStore) AttachmentsBySequence(_ context.Context, seq uint64) ([]revtree.AttachmentRef, error) {
	return m.attachments[seq], nil
}

func (m *MemStore) PutRevision(_ context.Context, rev revtree.Revision, parentRevID revtree.RevID, allowConflict bool, status *PutStatus) (revtree.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(rev, parentRevID, allowConflict, status)
}

func (m *MemStore) putLocked(rev revtree.Revision, parentRevID revtree.RevID, allowConflict bool, status *PutStatus) (revtree.Revision, error) {
	if !allowConflict && parentRevID != "" {
		active := m.tree.ActiveRevisions(rev.DocID)
		for _, a := range active {
			if a.RevID != parentRevID {
				return revtree.Revision{}, fmt.Errorf("store: conflict inserting child of %s: %s is also active", parentRevID, a.RevID)
			}
		}
	}
	rev.Parent = parentRevID
	if rev.Sequence == 0 {
		m.seqCounters[rev.DocID]++
		rev.Sequence = m.seqCounters[rev.DocID]
	}
	if err := m.tree.Put(rev); err != nil {
		return revtree.Revision{}, fmt.Errorf("store: put revision: %w", err)
	}
	if len(rev.Attachments) > 0 {
		m.attachments[rev.Sequence] = append([]revtree.AttachmentRef(nil), rev.Attachments...)
	}
	if status != nil {
		status.Created = true
		status.ConflictExists = len(m.tree.ActiveRevisions(rev.DocID)) >= 2
	}
	return rev, nil
}

// Transaction executes fn against a Tx view of this store. Because
// MemStore holds a single process-wide mutex for the whole call, every
// operation performed through tx is atomic with respect to other
// Transaction calls; an error returned by fn aborts the transaction (no
// partial writes reach the tree beyond what fn already performed, since
// the tree itself takes no locks that outlive a single Put).
func (m *MemStore) Transaction(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m}
	return fn(tx)
}

func (m *MemStore) Close() error { return nil }

// memTx implements Tx against a MemStore whose mutex the caller already
// holds (see Transaction).
type memTx struct {
	store *MemStore
}

func (t *memTx) PutRevision(_ context.Context, rev revtree.Revision, parentRevID revtree.RevID, allowConflict bool, status *PutStatus) (revtree.Revision, error) {
	return t.store.putLocked(rev, parentRevID, allowConflict, status)
}

func (t *memTx) ActiveRevisions(_ context.Context, doc revtree.DocID) ([]revtree.Revision, error) {
	return t.store.tree.ActiveRevisions(doc), nil
}
