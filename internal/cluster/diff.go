package cluster

import "sort"

// SetDiff is the symmetric difference between two matched-item sets.
type SetDiff struct {
	Added   []int64
	Removed []int64
}

// Changed reports whether the sets differ at all.
func (d SetDiff) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// DiffMatchedSets computes which item IDs entered and left a cluster's
// matched set between two evaluations. Pure; order of inputs is irrelevant
// and outputs are sorted.
func DiffMatchedSets(before, after []int64) SetDiff {
	beforeSet := make(map[int64]struct{}, len(before))
	for _, id := range before {
		beforeSet[id] = struct{}{}
	}
	afterSet := make(map[int64]struct{}, len(after))
	for _, id := range after {
		afterSet[id] = struct{}{}
	}

	var diff SetDiff
	for id := range afterSet {
		if _, ok := beforeSet[id]; !ok {
			diff.Added = append(diff.Added, id)
		}
	}
	for id := range beforeSet {
		if _, ok := afterSet[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}

	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i] < diff.Added[j] })
	sort.Slice(diff.Removed, func(i, j int) bool { return diff.Removed[i] < diff.Removed[j] })
	return diff
}
