// Package filterbridge adapts a user-supplied, high-level filter predicate
// over a RevisionView into the low-level predicate shape the transport
// actually invokes per candidate revision.
package filterbridge

import (
	"github.com/mobilesync/replicore/internal/revtree"
)

// Params carries the filter's opaque parameter map, passed through from
// replconfig.Config.FilterParams.
type Params map[string]string

// UserFilter is the high-level predicate a caller supplies via
// replconfig.Config.PushFilter.
type UserFilter func(view revtree.RevisionView, params Params) bool

// LowLevelRevision is the shape the transport already has in hand when it
// needs to decide whether to replicate a candidate change — it carries the
// body but no attachment set, only what the transport's own change feed
// tracks.
type LowLevelRevision struct {
	DocID    revtree.DocID
	RevID    revtree.RevID
	Deleted  bool
	Sequence uint64
	Body     map[string]any
}

// TransportFilter is the predicate shape the transport invokes: one call
// per candidate low-level revision plus the filter params.
type TransportFilter func(rev LowLevelRevision, params Params) bool

// Wrap captures userFilter by value and returns a TransportFilter that
// projects each LowLevelRevision into a RevisionView before delegating.
// Attachments are intentionally omitted from the view (the filter never
// sees them) per spec. Because userFilter is captured by value here,
// mutating the configuration that produced it after Wrap has no effect on
// in-flight filtering.
func Wrap(userFilter UserFilter) TransportFilter {
	return func(rev LowLevelRevision, params Params) bool {
		view := revtree.RevisionView{
			DocID:    rev.DocID,
			RevID:    rev.RevID,
			Body:     rev.Body,
			Deleted:  rev.Deleted,
			Sequence: rev.Sequence,
		}
		return userFilter(view, params)
	}
}
