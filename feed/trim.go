package feed

// TrimResult is the outcome of Trim. Evicted is in eviction order, oldest
// first.
type TrimResult struct {
	Kept    []Entry
	Evicted []Entry
}

// Trim drops entries from the tail of a most-recent-first list until it holds
// at most maxCount entries whose content bodies total at most maxBytes.
//
// A negative limit disables trimming entirely, even if the other limit is
// set. An empty list is returned unchanged.
func Trim(entries []Entry, maxBytes int64, maxCount int) TrimResult {
	if maxBytes < 0 || maxCount < 0 || len(entries) == 0 {
		return TrimResult{Kept: entries}
	}

	sizes := make([]int64, len(entries))
	var total int64
	for i := range entries {
		sizes[i] = entries[i].Content.Size()
		total += sizes[i]
	}

	n := len(entries)
	var evicted []Entry
	for n > 0 && (n > maxCount || total > maxBytes) {
		n--
		total -= sizes[n]
		evicted = append(evicted, entries[n])
	}

	return TrimResult{Kept: entries[:n:n], Evicted: evicted}
}
