package store

import (
	"sort"

	"mirror-engine/internal/mirror"
)

// sortFills orders fills by (timestamp, id), the query contract §6 names
// for "select pending fills ordered by (timestamp, id)".
func sortFills(fills []mirror.SourceFill) {
	sort.Slice(fills, func(i, j int) bool {
		if !fills[i].Timestamp.Equal(fills[j].Timestamp) {
			return fills[i].Timestamp.Before(fills[j].Timestamp)
		}
		return fills[i].ID < fills[j].ID
	})
}

// sortOrders orders orders by (timestamp, id), same contract as sortFills.
func sortOrders(orders []mirror.SourceOrder) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Timestamp.Equal(orders[j].Timestamp) {
			return orders[i].Timestamp.Before(orders[j].Timestamp)
		}
		return orders[i].ID < orders[j].ID
	})
}

// sortProcessedDesc orders processed records by timestamp desc, the
// "paginated by timestamp desc" contract for ProcessedPage.
func sortProcessedDesc(recs []mirror.ProcessedRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp.After(recs[j].Timestamp) })
}
