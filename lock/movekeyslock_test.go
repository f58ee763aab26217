package lock

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewOwnerIDReturnsDistinctValues(t *testing.T) {
	a := NewOwnerID()
	b := NewOwnerID()
	assert.NotEqual(t, uuid.Nil, a)
	assert.NotEqual(t, a, b)
}

func TestDecodeOwnerRoundTripsAWellFormedID(t *testing.T) {
	want := uuid.New()
	got := decodeOwner(want[:])
	assert.Equal(t, want, got)
}

func TestDecodeOwnerReturnsNilForWrongLength(t *testing.T) {
	assert.Equal(t, uuid.UUID{}, decodeOwner(nil))
	assert.Equal(t, uuid.UUID{}, decodeOwner([]byte{1, 2, 3}))
}
