package metrics

import "sort"

// ErrorRow represents the aggregated count for one error kind.
type ErrorRow struct {
	Kind  string
	Count int64
}

// FlattenErrors converts an error tally into a sorted slice of ErrorRow.
// Rows are sorted by descending count, then by kind for stability.
func FlattenErrors(tally map[string]int64) []ErrorRow {
	if len(tally) == 0 {
		return nil
	}
	rows := make([]ErrorRow, 0, len(tally))
	for kind, count := range tally {
		rows = append(rows, ErrorRow{Kind: kind, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
