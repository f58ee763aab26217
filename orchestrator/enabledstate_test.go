package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEnabledStateStartsEnabled(t *testing.T) {
	s := NewEnabledState()
	assert.True(t, s.IsEnabled())
	kind, _ := s.Get()
	assert.Equal(t, Enabled, kind)
}

func TestDisableBySnapshotThenRestoreEnabled(t *testing.T) {
	s := NewEnabledState()
	owner := uuid.New()

	assert.True(t, s.DisableBySnapshot(owner))
	kind, got := s.Get()
	assert.Equal(t, DisabledBySnapshot, kind)
	assert.Equal(t, owner, got)
	assert.False(t, s.IsEnabled())

	s.RestoreEnabled()
	assert.True(t, s.IsEnabled())
}

func TestDisableBySnapshotFailsWhenAlreadyDisabled(t *testing.T) {
	s := NewEnabledState()
	assert.True(t, s.DisableBySnapshot(uuid.New()))
	assert.False(t, s.DisableBySnapshot(uuid.New()))
}

func TestDisableByOperatorOverridesAnyState(t *testing.T) {
	s := NewEnabledState()
	s.DisableBySnapshot(uuid.New())
	s.DisableByOperator()
	kind, _ := s.Get()
	assert.Equal(t, DisabledByOperator, kind)
	assert.False(t, s.IsEnabled())
}
