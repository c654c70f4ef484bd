package session

import (
	"github.com/go-go-golems/parley/pkg/chat"
)

// correlator matches tool lifecycle events to the tool-call record they
// refer to. Strategy is two-tier:
//
//  1. exact id match: always wins, exclusive, at most one record updated;
//  2. first active call with the same tool name, in insertion order,
//     whatever its current status.
//
// The name tier is a compatibility shim for backend code paths that omit
// the call id. When several same-named calls race with distinct ids, tier 1
// keeps results from cross-wiring. Same-named calls that all lack ids are
// inherently ambiguous; first-match is the documented behavior, not a fix.
type correlator struct {
	// record ids claimed by a name match in the current batch, so two
	// id-less events in one batch cannot land on the same record
	claimed map[string]struct{}
}

func newCorrelator() *correlator {
	return &correlator{claimed: map[string]struct{}{}}
}

// beginBatch forgets name-match claims from the previous batch.
func (c *correlator) beginBatch() {
	if len(c.claimed) > 0 {
		c.claimed = map[string]struct{}{}
	}
}

// find locates the record for (id, name). An event with neither a usable
// id nor a known name matches nothing; the caller treats that as a no-op.
func (c *correlator) find(calls []*chat.ToolCall, id, name string) *chat.ToolCall {
	if id != "" {
		for _, tc := range calls {
			if tc.ID == id {
				return tc
			}
		}
	}
	if name == "" {
		return nil
	}
	for _, tc := range calls {
		if tc.Name != name {
			continue
		}
		if _, taken := c.claimed[tc.ID]; taken {
			continue
		}
		c.claimed[tc.ID] = struct{}{}
		return tc
	}
	return nil
}
