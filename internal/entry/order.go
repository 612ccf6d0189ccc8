package entry

import (
	"bytes"
	"sort"
)

// PendingLess is the total order applied to pending entries before sequence
// numbers are assigned: submission timestamp ascending, content hash as the
// tie-breaker. Because content hashes are unique, no two distinct entries
// compare equal, which makes a sequencing round reproducible from the same
// pending set.
func PendingLess(a, b Logged) bool {
	if a.Timestamp() != b.Timestamp() {
		return a.Timestamp() < b.Timestamp()
	}
	return bytes.Compare(a.Hash(), b.Hash()) < 0
}

// SortPending orders entries in place per PendingLess.
func SortPending(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return PendingLess(entries[i], entries[j])
	})
}
