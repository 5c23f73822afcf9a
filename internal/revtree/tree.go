package revtree

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrParentMissing is returned by Put when a non-root revision names a
// parent that is not yet present in the tree.
var ErrParentMissing = fmt.Errorf("revtree: parent revision not present")

// ErrGenerationMismatch is returned by Put when the child's generation does
// not equal parent generation + 1.
var ErrGenerationMismatch = fmt.Errorf("revtree: generation(child) != generation(parent)+1")

// defaultActiveLeafCacheSize bounds the per-process memory spent caching
// active-leaf sets; it is a cache, not a correctness requirement, so any
// positive size works. 4096 documents comfortably covers a mobile
// replication working set without growing unbounded.
const defaultActiveLeafCacheSize = 4096

// Tree is an in-memory index over one or more documents' revision DAGs:
// all revisions addressable by RevID, an index by DocID of active
// (non-deleted leaf) revisions, and an index by sequence.
//
// Tree is safe for concurrent use.
type Tree struct {
	mu sync.RWMutex

	revisions  map[DocID]map[RevID]*Revision
	children   map[DocID]map[RevID][]RevID
	bySequence map[uint64]*Revision

	// activeCache memoizes ActiveRevisions' leaf-id computation per
	// document; invalidated on every Put for that document.
	activeCache *lru.Cache[DocID, []RevID]
}

// New constructs an empty Tree.
func New() *Tree {
	cache, _ := lru.New[DocID, []RevID](defaultActiveLeafCacheSize)
	return &Tree{
		revisions:   make(map[DocID]map[RevID]*Revision),
		children:    make(map[DocID]map[RevID][]RevID),
		bySequence:  make(map[uint64]*Revision),
		activeCache: cache,
	}
}

// Put inserts a revision into the tree. For non-root revisions, the parent
// must already be present and the generation invariant
// generation(child) = generation(parent) + 1 must hold; Put does not
// compute the generation, it validates whatever the caller has already
// derived from the RevID.
func (t *Tree) Put(rev Revision) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !rev.IsRoot() {
		parent, ok := t.lookupLocked(rev.DocID, rev.Parent)
		if !ok {
			return ErrParentMissing
		}
		if rev.Generation != parent.Generation+1 {
			return ErrGenerationMismatch
		}
	}

	if _, ok := t.revisions[rev.DocID]; !ok {
		t.revisions[rev.DocID] = make(map[RevID]*Revision)
	}
	cp := rev
	t.revisions[rev.DocID][rev.RevID] = &cp
	t.bySequence[rev.Sequence] = &cp

	if !rev.IsRoot() {
		if _, ok := t.children[rev.DocID]; !ok {
			t.children[rev.DocID] = make(map[RevID][]RevID)
		}
		t.children[rev.DocID][rev.Parent] = append(t.children[rev.DocID][rev.Parent], rev.RevID)
	}

	t.activeCache.Remove(rev.DocID)
	return nil
}

// lookupLocked requires t.mu to be held (read or write).
func (t *Tree) lookupLocked(doc DocID, rev RevID) (*Revision, bool) {
	byRev, ok := t.revisions[doc]
	if !ok {
		return nil, false
	}
	r, ok := byRev[rev]
	return r, ok
}

// Get returns the revision identified by (doc, rev), if present.
func (t *Tree) Get(doc DocID, rev RevID) (Revision, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.lookupLocked(doc, rev)
	if !ok {
		return Revision{}, false
	}
	return *r, true
}

// BySequence returns the revision that carries the given sequence number.
func (t *Tree) BySequence(seq uint64) (Revision, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.bySequence[seq]
	if !ok {
		return Revision{}, false
	}
	return *r, true
}

// ActiveRevisions returns every non-deleted leaf revision for a document:
// a revision with no children, and deleted == false. Order is unspecified.
func (t *Tree) ActiveRevisions(doc DocID) []Revision {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeRevisionsLocked(doc)
}

func (t *Tree) activeRevisionsLocked(doc DocID) []Revision {
	if ids, ok := t.activeCache.Get(doc); ok {
		out := make([]Revision, 0, len(ids))
		for _, id := range ids {
			if r, ok := t.revisions[doc][id]; ok {
				out = append(out, *r)
			}
		}
		return out
	}

	byRev := t.revisions[doc]
	childSet := t.children[doc]
	var out []Revision
	var ids []RevID
	for id, r := range byRev {
		if len(childSet[id]) > 0 {
			continue // not a leaf
		}
		if r.Deleted {
			continue
		}
		out = append(out, *r)
		ids = append(ids, id)
	}
	t.activeCache.Add(doc, ids)
	return out
}

// ConflictedDocumentIDs returns every DocID with two or more active
// revisions. Order is unspecified; callers must not assume stability
// across calls.
func (t *Tree) ConflictedDocumentIDs() []DocID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []DocID
	for doc := range t.revisions {
		if len(t.activeRevisionsLocked(doc)) >= 2 {
			out = append(out, doc)
		}
	}
	return out
}

// ParentChain walks from rev up to its root, inclusive of rev, ordered
// from rev to root.
func (t *Tree) ParentChain(doc DocID, rev RevID) ([]Revision, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var chain []Revision
	cur := rev
	for {
		r, ok := t.lookupLocked(doc, cur)
		if !ok {
			return nil, fmt.Errorf("revtree: revision %s/%s not found while walking parent chain", doc, cur)
		}
		chain = append(chain, *r)
		if r.IsRoot() {
			return chain, nil
		}
		cur = r.Parent
	}
}

// Children returns the direct children of a revision, if any.
func (t *Tree) Children(doc DocID, rev RevID) []RevID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kids := t.children[doc][rev]
	out := make([]RevID, len(kids))
	copy(out, kids)
	return out
}

// NextSequence returns one past the highest sequence seen so far across
// the whole tree; callers use it to assign a fresh, monotonic sequence to
// a new revision. This is a convenience for in-memory/test use; a real
// backing store assigns sequences transactionally (see internal/store).
func (t *Tree) NextSequence() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var max uint64
	for seq := range t.bySequence {
		if seq > max {
			max = seq
		}
	}
	return max + 1
}
