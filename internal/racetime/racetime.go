// Package racetime implements the two clock types exchanged with the
// timing program and camera program: RaceTime (an elapsed duration with
// up to four decimal digits of precision) and DayTime (a wall-clock time
// of day). Both are represented internally as integer counts so that
// rendering and rounding are exact rather than floating point.
package racetime

import (
	"fmt"
	"strings"
	"time"
)

// unitsPerSecond is the number of ten-thousandths of a second in one second.
const unitsPerSecond = 10000

// RaceTime is an elapsed race time, canonically stored as a count of
// ten-thousandths of a second (its smallest representable unit).
type RaceTime struct {
	tenThousandths uint64
}

// Fields is the decomposed decimal representation used when a caller wants
// to build a RaceTime field by field rather than from a duration.
type Fields struct {
	Hours        uint64
	Minutes      uint64
	Seconds      uint64
	Tenths       uint64
	Hundredths   uint64
	Thousandths  uint64
	TenThousands uint64
}

// FromFields assembles a RaceTime from its optional decimal components.
// Each field is assumed already range-checked by the caller (parsers are
// responsible for rejecting e.g. Minutes >= 60 if that matters to them;
// RaceTime itself only cares about the total).
func FromFields(f Fields) RaceTime {
	total := f.Hours*3600*unitsPerSecond +
		f.Minutes*60*unitsPerSecond +
		f.Seconds*unitsPerSecond +
		f.Tenths*1000 +
		f.Hundredths*100 +
		f.Thousandths*10 +
		f.TenThousands
	return RaceTime{tenThousandths: total}
}

// FromTenThousandths builds a RaceTime directly from a ten-thousandths
// count, rounding half-up to the nearest representable multiple of
// 10^(4-precision) for the given precision (0..4). This is the inverse
// companion to ToTenThousandths(precision) and is what the codec uses
// when decoding a wire value already expressed at a known precision.
func FromTenThousandths(n uint64, precision int) RaceTime {
	step := stepFor(precision)
	if step <= 1 {
		return RaceTime{tenThousandths: n}
	}
	rounded := roundHalfUp(n, step)
	return RaceTime{tenThousandths: rounded}
}

// FromDuration converts a wall-clock duration to a RaceTime, truncating to
// the nearest microsecond-derived ten-thousandth (microseconds / 100).
func FromDuration(d time.Duration) RaceTime {
	if d < 0 {
		d = 0
	}
	micros := uint64(d.Microseconds())
	return RaceTime{tenThousandths: micros / 100}
}

// Duration converts the RaceTime back to a time.Duration.
func (r RaceTime) Duration() time.Duration {
	return time.Duration(r.tenThousandths) * 100 * time.Microsecond
}

// ToTenThousandths rounds the canonical value half-up to the nearest
// multiple of 10^(4-precision) and returns it still expressed in
// ten-thousandths. precision must be in 0..4.
func (r RaceTime) ToTenThousandths(precision int) uint64 {
	return roundHalfUp(r.tenThousandths, stepFor(precision))
}

func stepFor(precision int) uint64 {
	switch precision {
	case 0:
		return 10000
	case 1:
		return 1000
	case 2:
		return 100
	case 3:
		return 10
	default:
		return 1
	}
}

// roundHalfUp rounds n to the nearest multiple of step, with ties rounding
// toward +infinity (half-up, never half-to-even).
func roundHalfUp(n, step uint64) uint64 {
	if step <= 1 {
		return n
	}
	half := step / 2
	return ((n + half) / step) * step
}

// String renders the RaceTime with two fractional digits, as Format(2).
func (r RaceTime) String() string {
	return r.Format(2)
}

// Format renders the RaceTime as "[H:]M:SS[.fraction]" with exactly
// `precision` fractional digits (0..4, clamped; 0 means no decimal point at
// all). Two RaceTime values with equal canonical ten-thousandths and equal
// requested precision always render identically.
func (r RaceTime) Format(precision int) string {
	if precision < 0 {
		precision = 0
	}
	if precision > 4 {
		precision = 4
	}
	rounded := r.ToTenThousandths(precision)

	totalSeconds := rounded / unitsPerSecond
	frac := rounded % unitsPerSecond

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	var b strings.Builder
	if hours > 0 {
		fmt.Fprintf(&b, "%d:%02d:%02d", hours, minutes, seconds)
	} else {
		fmt.Fprintf(&b, "%d:%02d", minutes, seconds)
	}
	if precision > 0 {
		digits := fmt.Sprintf("%04d", frac)
		b.WriteByte('.')
		b.WriteString(digits[:precision])
	}
	return b.String()
}

// IsZero reports whether the RaceTime represents exactly zero elapsed time.
func (r RaceTime) IsZero() bool {
	return r.tenThousandths == 0
}

// Sub returns the elapsed RaceTime between two wall-clock instants,
// clamped to zero if end precedes start.
func Sub(start, end time.Time) RaceTime {
	if end.Before(start) {
		return RaceTime{}
	}
	return FromDuration(end.Sub(start))
}
