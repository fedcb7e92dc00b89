package timingfsm

import (
	"testing"
	"time"

	"github.com/trackwall/dwa/internal/racetime"
)

func rt(minutes, seconds uint64, thousandths uint64) racetime.RaceTime {
	return racetime.FromFields(racetime.Fields{Minutes: minutes, Seconds: seconds, Thousandths: thousandths})
}

func TestFullSequenceFireworksOnBoth(t *testing.T) {
	m := New()
	now := time.Now()

	eff := m.Apply(Update{Kind: UpdateRunning, Time: rt(0, 12, 0)}, now, true, true)
	if m.State != Running || eff.PlayAnimationOnce {
		t.Fatalf("after Running: state=%v eff=%v", m.State, eff)
	}

	eff = m.Apply(Update{Kind: UpdateIntermediate, Time: rt(0, 13, 500)}, now, true, true)
	if m.State != Held || !eff.PlayAnimationOnce {
		t.Fatalf("after Intermediate: state=%v eff=%v", m.State, eff)
	}

	eff = m.Apply(Update{Kind: UpdateEnd, Time: rt(0, 14, 1)}, now, true, true)
	if m.State != Finished || !eff.PlayAnimationOnce {
		t.Fatalf("after End: state=%v eff=%v", m.State, eff)
	}

	want := rt(0, 14, 1)
	if m.Value(now).Format(3) != want.Format(3) {
		t.Errorf("final value = %v, want %v", m.Value(now), want)
	}
}

func TestFireworksGatedByFlag(t *testing.T) {
	m := New()
	now := time.Now()
	m.Apply(Update{Kind: UpdateRunning, Time: rt(0, 0, 0)}, now, false, false)
	eff := m.Apply(Update{Kind: UpdateIntermediate, Time: rt(0, 1, 0)}, now, false, false)
	if eff.PlayAnimationOnce {
		t.Error("fireworks should not fire when fireworksOnIntermediate=false")
	}
}

func TestResetReturnsToStopped(t *testing.T) {
	m := New()
	now := time.Now()
	m.Apply(Update{Kind: UpdateRunning, Time: rt(0, 5, 0)}, now, false, false)
	m.Apply(Update{Kind: UpdateReset}, now, false, false)
	if m.State != Stopped {
		t.Fatalf("state = %v, want Stopped", m.State)
	}
	if !m.Value(now).IsZero() {
		t.Errorf("value after reset = %v, want zero", m.Value(now))
	}
}

func TestRunningValueAdvancesWithWallClock(t *testing.T) {
	m := New()
	start := time.Now()
	m.Apply(Update{Kind: UpdateRunning, Time: rt(0, 10, 0)}, start, false, false)

	later := start.Add(2 * time.Second)
	got := m.Value(later)
	want := rt(0, 12, 0)
	if got.Format(0) != want.Format(0) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHeldValueSnapshotDoesNotAdvance(t *testing.T) {
	m := New()
	start := time.Now()
	m.Apply(Update{Kind: UpdateRunning, Time: rt(0, 10, 0)}, start, false, false)
	m.Apply(Update{Kind: UpdateIntermediate, Time: rt(0, 10, 0)}, start, false, false)

	later := start.Add(5 * time.Second)
	got := m.Value(later)
	want := rt(0, 10, 0)
	if got.Format(0) != want.Format(0) {
		t.Errorf("held value drifted: got %v, want %v", got, want)
	}
}
