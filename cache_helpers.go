package linkcheck

// Key builders for the link query families. Every cached read goes through
// one of these so the parameter names stay identical between the read path
// and the invalidation scopes.

// recentLinksLimit bounds the recent-items preview of LinkStats.
const recentLinksLimit = 5

// linkDetailKey addresses GetLink(id, ownerID).
func linkDetailKey(id, ownerID int64) string {
	return DeriveKey(NamespaceLink, NewParams().
		Set(ParamLinkID, id).
		Set(ParamUserID, ownerID))
}

// linkListKey addresses ListLinks. A nil status and an explicit filter on
// every status are different parameter sets.
func linkListKey(q ListQuery) string {
	params := NewParams().
		Set(ParamUserID, q.OwnerID).
		Set("page", q.Page).
		Set("page_size", q.PageSize)
	if q.Status != nil {
		params.Set("status", string(*q.Status))
	}
	return DeriveKey(NamespaceLinks, params)
}

// linkStatsKey addresses Stats(ownerID).
func linkStatsKey(ownerID int64) string {
	return DeriveKey(NamespaceStats, NewParams().
		Set(ParamUserID, ownerID).
		Set("recent", recentLinksLimit))
}
