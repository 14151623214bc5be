package feed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entriesWithIDs(ids ...string) []Entry {
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = Entry{ID: id, Title: "old " + id}
	}
	return entries
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestMergeEntryPrepends(t *testing.T) {
	existing := entriesWithIDs("b", "c")
	merged := MergeEntry(existing, Entry{ID: "a"})
	assert.Equal(t, []string{"a", "b", "c"}, ids(merged))
}

func TestMergeEntryIntoEmpty(t *testing.T) {
	merged := MergeEntry(nil, Entry{ID: "a"})
	assert.Equal(t, []string{"a"}, ids(merged))
}

func TestMergeEntryReplacesAtEveryPosition(t *testing.T) {
	base := []string{"e1", "e2", "e3", "e4", "e5"}

	for pos := range base {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			existing := entriesWithIDs(base...)
			dup := base[pos]

			merged := MergeEntry(existing, Entry{ID: dup, Title: "new"})

			require.Len(t, merged, len(existing))
			assert.Equal(t, dup, merged[0].ID)
			assert.Equal(t, "new", merged[0].Title)

			var rest []string
			for _, id := range base {
				if id != dup {
					rest = append(rest, id)
				}
			}
			assert.Equal(t, rest, ids(merged[1:]), "other entries keep their order")
		})
	}
}

func TestMergeEntryRemovesAllDuplicates(t *testing.T) {
	existing := entriesWithIDs("x", "a", "x", "b", "x")
	merged := MergeEntry(existing, Entry{ID: "x", Title: "new"})
	assert.Equal(t, []string{"x", "a", "b"}, ids(merged))
}

func TestMergeEntryDoesNotMutateInput(t *testing.T) {
	existing := entriesWithIDs("a", "b", "c")
	snapshot := append([]Entry(nil), existing...)

	_ = MergeEntry(existing, Entry{ID: "b", Title: "new"})
	assert.Equal(t, snapshot, existing)
}
