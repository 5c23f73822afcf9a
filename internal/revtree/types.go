// Package revtree implements the in-memory revision-tree model: a
// document's DAG of revisions, deletion tombstones, and attachment
// references keyed by insertion sequence.
package revtree

import (
	"fmt"
	"strconv"
	"strings"
)

// DocID identifies a document. Opaque from the tree's point of view.
type DocID string

// RevID identifies a single revision. The generation is encoded as the
// integer prefix before the first '-', e.g. "3-abcde".
type RevID string

// Generation parses the integer prefix of a RevID. Returns an error if the
// RevID is malformed (no numeric prefix, or prefix <= 0).
func (r RevID) Generation() (int, error) {
	s := string(r)
	idx := strings.IndexByte(s, '-')
	if idx <= 0 {
		return 0, fmt.Errorf("revtree: malformed rev id %q", s)
	}
	gen, err := strconv.Atoi(s[:idx])
	if err != nil {
		return 0, fmt.Errorf("revtree: malformed rev id %q: %w", s, err)
	}
	if gen <= 0 {
		return 0, fmt.Errorf("revtree: rev id %q has non-positive generation", s)
	}
	return gen, nil
}

// AttachmentRef describes an attachment carried by a revision. It is
// keyed by the sequence of the revision that introduced or last carried it;
// a revision that is updated without touching its attachments inherits the
// ancestor's reference verbatim (same RevPos, new Sequence at the call
// site — the ref itself is immutable).
type AttachmentRef struct {
	Sequence      uint64
	Filename      string
	MimeType      string
	Length        int64
	RevPos        int
	Encoding      string
	EncodedLength int64
}

// Revision is one node of a document's DAG.
type Revision struct {
	DocID       DocID
	RevID       RevID
	Generation  int
	Parent      RevID // empty for a root revision
	Deleted     bool
	Body        map[string]any
	Sequence    uint64
	Attachments []AttachmentRef
}

// IsRoot reports whether this revision has no parent.
func (r Revision) IsRoot() bool {
	return r.Parent == ""
}

// RevisionView is the read-only projection of a Revision handed to
// resolvers and to the filter bridge. It has no attachments field, so
// neither the filter bridge nor a resolver sees a revision's attachments.
type RevisionView struct {
	DocID    DocID
	RevID    RevID
	Body     map[string]any
	Deleted  bool
	Sequence uint64
}

// View projects a Revision to its RevisionView.
func (r Revision) View() RevisionView {
	return RevisionView{
		DocID:    r.DocID,
		RevID:    r.RevID,
		Body:     r.Body,
		Deleted:  r.Deleted,
		Sequence: r.Sequence,
	}
}
