package orchestrator

// ShardMetric is one shard's reported size, the unit dataDistributorMetrics
// proxies from the shard-metrics list provider (spec §4.5, §6).
type ShardMetric struct {
	Begin, End []byte
	Bytes      int64
}

// GetMetrics answers dataDistributorMetrics (spec §4.5, §6): it returns
// the shard metrics covering keys (already filtered/limited by the
// caller-supplied provider), or, if midOnly is set, only the median shard
// byte size computed via partial selection rather than a full sort (spec
// §4.5, §9 ambiguity (c): "tests must not assume full ordering of the
// returned vector").
//
// No pack example implements a selection algorithm, so this is a
// documented standard-library exception (see DESIGN.md): the partial-sort
// requirement is itself the point of the operation, not an ambient
// concern a third-party dependency would normally own.
func GetMetrics(all []ShardMetric, midOnly bool) ([]ShardMetric, int64) {
	if !midOnly {
		return all, 0
	}
	if len(all) == 0 {
		return nil, 0
	}
	sizes := make([]int64, len(all))
	for i, m := range all {
		sizes[i] = m.Bytes
	}
	return nil, nthElement(sizes, len(sizes)/2)
}

// nthElement partitions sizes in place so that sizes[k] holds the value
// that would occupy position k in sorted order, without fully sorting the
// rest — a direct analogue of C++'s std::nth_element, which is what the
// source DD implementation uses for its median (spec §4.5, §9).
func nthElement(sizes []int64, k int) int64 {
	lo, hi := 0, len(sizes)-1
	for lo < hi {
		p := partition(sizes, lo, hi)
		switch {
		case p == k:
			return sizes[k]
		case p < k:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
	return sizes[k]
}

func partition(sizes []int64, lo, hi int) int {
	pivot := sizes[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if sizes[j] < pivot {
			sizes[i], sizes[j] = sizes[j], sizes[i]
			i++
		}
	}
	sizes[i], sizes[hi] = sizes[hi], sizes[i]
	return i
}
