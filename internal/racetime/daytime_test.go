package racetime

import (
	"testing"
	"time"
)

func TestDayTimeAddWrapsModulo24h(t *testing.T) {
	d := NewDayTime(23, 59, 59, 0)
	got := d.Add(2 * time.Second)
	want := NewDayTime(0, 0, 1, 0)
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDayTimeAddNegativeWraps(t *testing.T) {
	d := NewDayTime(0, 0, 1, 0)
	got := d.Add(-2 * time.Second)
	want := NewDayTime(23, 59, 59, 0)
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDayTimeStringOmitsFractionWhenZero(t *testing.T) {
	d := NewDayTime(11, 19, 56, 0)
	if got := d.String(); got != "11:19:56" {
		t.Errorf("got %q", got)
	}
}

func TestDayTimeRoundTripDuration(t *testing.T) {
	d := NewDayTime(11, 19, 56, 6500)
	back := FromDayDuration(d.ToDuration())
	if back != d {
		t.Errorf("round trip mismatch: %v -> %v", d, back)
	}
}
