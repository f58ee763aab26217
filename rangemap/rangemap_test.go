package rangemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eq(a, b string) bool { return a == b }

func k(b byte) []byte { return []byte{b} }

func TestAssignSplitsAndCoalesces(t *testing.T) {
	m := New(eq)
	m.Reset(k(0), nil, "x")
	assert.Equal(t, 1, m.Len())

	m.Assign(k(10), k(20), "y")
	assert.Equal(t, 3, m.Len()) // [0,10)=x [10,20)=y [20,end)=x

	m.Assign(k(10), k(20), "x")
	assert.Equal(t, 1, m.Len()) // coalesces back into a single x entry
}

func TestEachVisitsOverlappingEntriesInOrder(t *testing.T) {
	m := New(eq)
	m.Reset(k(0), nil, "a")
	m.Assign(k(10), k(20), "b")
	m.Assign(k(30), k(40), "c")

	var starts [][]byte
	m.Each(k(5), k(35), func(start, end []byte, v string) bool {
		starts = append(starts, start)
		return true
	})
	require.Len(t, starts, 3)
	assert.Equal(t, k(0), starts[0])
	assert.Equal(t, k(10), starts[1])
	assert.Equal(t, k(30), starts[2])
}

func TestSplitIsNoOpAtExistingBoundary(t *testing.T) {
	m := New(eq)
	m.Reset(k(0), nil, "a")
	m.Assign(k(10), k(20), "b")
	before := m.Len()
	m.Split(k(10))
	assert.Equal(t, before, m.Len())
}
