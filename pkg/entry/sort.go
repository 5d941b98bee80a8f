package entry

import "sort"

// sortEntries sorts under LessFull. Buffers are large; sort.Slice is adequate and
// allocation-free over the backing array.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return LessFull(entries[i], entries[j])
	})
}
