package linkcheck

import (
	"strconv"
)

// InvalidationScope names the set of cache keys a mutation must drop.
// Keys are opaque digests, but DeriveKey embeds the owner and link ids as
// delimited segments ("links:u7:...", "link:u7:l42:..."), so a scope is
// expressed as glob patterns over those segments. The ':' delimiters on both
// sides keep user 7 from matching user 17 or 70.
type InvalidationScope struct {
	OwnerID int64
	// EntityIDs adds the detail entries of these links.
	EntityIDs []int64
	// ListingsOnly restricts the owner part to list and stats entries,
	// leaving the owner's other detail entries alone.
	ListingsOnly bool
}

// OwnerScope drops every list, detail and stats entry of ownerID plus the
// detail entries of entityIDs.
func OwnerScope(ownerID int64, entityIDs ...int64) InvalidationScope {
	return InvalidationScope{OwnerID: ownerID, EntityIDs: entityIDs}
}

// ListingScope drops the owner's list and stats entries. A create uses it:
// no detail entry can exist yet for a new id.
func ListingScope(ownerID int64) InvalidationScope {
	return InvalidationScope{OwnerID: ownerID, ListingsOnly: true}
}

// EntityScope drops the owner's list and stats entries and the detail
// entries of one link. Updates and deletes use it.
func EntityScope(ownerID, linkID int64) InvalidationScope {
	return InvalidationScope{OwnerID: ownerID, EntityIDs: []int64{linkID}, ListingsOnly: true}
}

// Patterns returns the glob patterns covering the scope.
func (s InvalidationScope) Patterns() []string {
	owner := ownerSegment(strconv.FormatInt(s.OwnerID, 10))
	patterns := []string{
		NamespaceLinks + ":" + owner + ":*",
		NamespaceStats + ":" + owner + ":*",
	}
	if !s.ListingsOnly {
		patterns = append(patterns, NamespaceLink+":"+owner+":*")
	}
	for _, id := range s.EntityIDs {
		// Any owner: a detail key always carries both segments.
		patterns = append(patterns, NamespaceLink+":u*:"+entitySegment(strconv.FormatInt(id, 10))+":*")
	}
	return patterns
}
