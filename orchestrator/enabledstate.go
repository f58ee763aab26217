package orchestrator

import (
	"github.com/google/uuid"

	"github.com/kakaiu/datadistribution/internal/cell"
)

// EnabledKind is one of DDEnabledState's three states (spec §3, §9).
type EnabledKind int

const (
	Enabled EnabledKind = iota
	DisabledByOperator
	DisabledBySnapshot
)

// EnabledState is the process-wide DDEnabledState toggle: a (kind, owner)
// pair guarded by compare-and-set, built on the generic observable cell
// (spec §3, §9: "model as a small state machine with a compare-and-set
// operation").
type EnabledState struct {
	c *cell.Cell[enabledValue]
}

type enabledValue struct {
	kind  EnabledKind
	owner uuid.UUID // meaningful only when kind == DisabledBySnapshot
}

// NewEnabledState returns a state initialized to Enabled.
func NewEnabledState() *EnabledState {
	return &EnabledState{c: cell.New(enabledValue{kind: Enabled})}
}

// Get returns the current kind and, if DisabledBySnapshot, its owner.
func (s *EnabledState) Get() (EnabledKind, uuid.UUID) {
	v, _ := s.c.Get()
	return v.kind, v.owner
}

// DisableBySnapshot transitions enabled -> disabled-by-snapshot(owner),
// succeeding only if the current state is Enabled (spec §4.5: "may flip
// enabled->disabled only if it is not already disabled").
func (s *EnabledState) DisableBySnapshot(owner uuid.UUID) bool {
	for {
		v, version := s.c.Get()
		if v.kind != Enabled {
			return false
		}
		if s.c.CompareAndSet(version, enabledValue{kind: DisabledBySnapshot, owner: owner}) {
			return true
		}
	}
}

// RestoreEnabled unconditionally transitions back to Enabled, used on
// every exit path of the snapshot protocol including cancellation (spec
// §4.5: "must be restored to enabled on every exit path").
func (s *EnabledState) RestoreEnabled() {
	for {
		_, version := s.c.Get()
		if s.c.CompareAndSet(version, enabledValue{kind: Enabled}) {
			return
		}
	}
}

// DisableByOperator transitions to disabled-by-operator regardless of the
// current state, mirroring an operator-issued override.
func (s *EnabledState) DisableByOperator() {
	for {
		_, version := s.c.Get()
		if s.c.CompareAndSet(version, enabledValue{kind: DisabledByOperator}) {
			return
		}
	}
}

// IsEnabled reports whether the in-memory toggle currently permits the
// loader/inner-loop to proceed (spec §4.2, §4.5: "the in-memory toggle").
func (s *EnabledState) IsEnabled() bool {
	kind, _ := s.Get()
	return kind == Enabled
}
