package orchestrator

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMetricsReturnsAllWhenNotMidOnly(t *testing.T) {
	all := []ShardMetric{{Bytes: 3}, {Bytes: 1}, {Bytes: 2}}
	shards, mid := GetMetrics(all, false)
	assert.Equal(t, all, shards)
	assert.Equal(t, int64(0), mid)
}

func TestGetMetricsMidOnlyEmpty(t *testing.T) {
	shards, mid := GetMetrics(nil, true)
	assert.Nil(t, shards)
	assert.Equal(t, int64(0), mid)
}

func TestGetMetricsMidOnlyMedian(t *testing.T) {
	all := []ShardMetric{{Bytes: 10}, {Bytes: 30}, {Bytes: 20}, {Bytes: 40}, {Bytes: 50}}
	shards, mid := GetMetrics(all, true)
	assert.Nil(t, shards)
	assert.Equal(t, int64(30), mid)
}

func TestNthElementMatchesFullSortAcrossRandomInputs(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		n := r.Intn(40) + 1
		sizes := make([]int64, n)
		for i := range sizes {
			sizes[i] = int64(r.Intn(1000))
		}
		k := r.Intn(n)

		sorted := append([]int64(nil), sizes...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		got := nthElement(append([]int64(nil), sizes...), k)
		assert.Equal(t, sorted[k], got)
	}
}
