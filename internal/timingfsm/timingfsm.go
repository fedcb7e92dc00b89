// Package timingfsm implements the timing sub-machine (C8) that runs inside
// the client state machine's Timing state: Stopped -> Running -> Held ->
// Finished, anchoring wall-clock time to race-time deltas on every
// non-Reset update.
package timingfsm

import (
	"time"

	"github.com/trackwall/dwa/internal/racetime"
)

// StateKind is the closed set of timing sub-machine states.
type StateKind int

const (
	Stopped StateKind = iota
	Running
	Held
	Finished
)

// UpdateKind is the closed set of inputs the sub-machine accepts.
type UpdateKind int

const (
	UpdateReset UpdateKind = iota
	UpdateRunning
	UpdateIntermediate
	UpdateEnd
)

// Update is one TimingUpdate event; Time is meaningful for every kind
// except UpdateReset.
type Update struct {
	Kind UpdateKind
	Time racetime.RaceTime
}

// Effects reports what the render loop (C9) should do as a result of
// Apply — specifically, whether to kick off a one-shot over-top animation.
type Effects struct {
	PlayAnimationOnce bool
}

// Machine is the timing sub-machine's full state, reference anchor
// included.
type Machine struct {
	State StateKind

	reference time.Time         // wall-clock instant race-time zero maps to
	held      racetime.RaceTime // snapshot taken on Intermediate
	finished  racetime.RaceTime // snapshot taken on End
}

// New returns a machine in its initial Stopped state.
func New() *Machine {
	return &Machine{State: Stopped}
}

// Apply transitions the machine per §4.8's table and returns the side
// effects the caller (the render loop) must carry out. fireworksOnX
// gates whether Intermediate/End updates request a one-shot animation.
func (m *Machine) Apply(u Update, now time.Time, fireworksOnIntermediate, fireworksOnFinish bool) Effects {
	switch u.Kind {
	case UpdateReset:
		m.State = Stopped
		return Effects{}
	case UpdateRunning:
		m.anchor(now, u.Time)
		m.State = Running
		return Effects{}
	case UpdateIntermediate:
		m.anchor(now, u.Time)
		m.held = m.currentlyComputed(now)
		m.State = Held
		return Effects{PlayAnimationOnce: fireworksOnIntermediate}
	case UpdateEnd:
		m.anchor(now, u.Time)
		m.finished = m.currentlyComputed(now)
		m.State = Finished
		return Effects{PlayAnimationOnce: fireworksOnFinish}
	default:
		return Effects{}
	}
}

// anchor sets reference so that now - rt == reference, per §4.8 ("for every
// non-Reset update, anchor reference = now - RaceTime").
func (m *Machine) anchor(now time.Time, rt racetime.RaceTime) {
	m.reference = now.Add(-rt.Duration())
}

// currentlyComputed is "now - reference" expressed as a RaceTime.
func (m *Machine) currentlyComputed(now time.Time) racetime.RaceTime {
	return racetime.Sub(m.reference, now)
}

// Value is the render-time read described in §4.8: Stopped -> zero,
// Running -> the live now-minus-reference computation, Held/Finished ->
// the snapshot taken at the transition.
func (m *Machine) Value(now time.Time) racetime.RaceTime {
	switch m.State {
	case Running:
		return m.currentlyComputed(now)
	case Held:
		return m.held
	case Finished:
		return m.finished
	default:
		return racetime.RaceTime{}
	}
}
