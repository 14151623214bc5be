package feed

// MergeEntry returns a new list with entry first, followed by every entry of
// existing whose id differs from entry's. existing is not modified.
func MergeEntry(existing []Entry, entry Entry) []Entry {
	merged := make([]Entry, 0, len(existing)+1)
	merged = append(merged, entry)
	for _, e := range existing {
		if e.ID != entry.ID {
			merged = append(merged, e)
		}
	}
	return merged
}
