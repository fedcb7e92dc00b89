package racetime

import (
	"fmt"
	"time"
)

// DayTime is a time-of-day value: hours (0-23), minutes, seconds, and an
// optional fractional part expressed in ten-thousandths of a second.
type DayTime struct {
	Hours          uint8
	Minutes        uint8
	Seconds        uint8
	TenThousandths uint16
}

const dayUnits = uint64(24) * 3600 * unitsPerSecond

// NewDayTime builds a DayTime from its components, wrapping out-of-range
// inputs modulo 24h the same way DayTime arithmetic below does.
func NewDayTime(hours, minutes, seconds uint8, tenThousandths uint16) DayTime {
	dt := DayTime{Hours: hours, Minutes: minutes, Seconds: seconds, TenThousandths: tenThousandths}
	return dt.normalize()
}

// FromDayDuration converts a duration since midnight into a DayTime,
// wrapping modulo 24h.
func FromDayDuration(d time.Duration) DayTime {
	total := uint64(d.Microseconds()) / 100
	total %= dayUnits
	return unitsToDayTime(total)
}

// ToDuration returns the duration since midnight this DayTime represents.
func (d DayTime) ToDuration() time.Duration {
	return time.Duration(d.toUnits()) * 100 * time.Microsecond
}

// Add returns the DayTime that results from adding a duration, wrapping
// modulo 24h in either direction.
func (d DayTime) Add(delta time.Duration) DayTime {
	cur := int64(d.toUnits())
	add := delta.Microseconds() / 100
	total := (cur + add) % int64(dayUnits)
	if total < 0 {
		total += int64(dayUnits)
	}
	return unitsToDayTime(uint64(total))
}

func (d DayTime) toUnits() uint64 {
	return uint64(d.Hours)*3600*unitsPerSecond +
		uint64(d.Minutes)*60*unitsPerSecond +
		uint64(d.Seconds)*unitsPerSecond +
		uint64(d.TenThousandths)
}

func unitsToDayTime(total uint64) DayTime {
	frac := total % unitsPerSecond
	totalSeconds := total / unitsPerSecond
	hours := (totalSeconds / 3600) % 24
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	return DayTime{
		Hours:          uint8(hours),
		Minutes:        uint8(minutes),
		Seconds:        uint8(seconds),
		TenThousandths: uint16(frac),
	}
}

func (d DayTime) normalize() DayTime {
	return unitsToDayTime(d.toUnits())
}

// String renders "HH:MM:SS" and, if the fractional part is non-zero,
// appends ".ffff".
func (d DayTime) String() string {
	if d.TenThousandths == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", d.Hours, d.Minutes, d.Seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%04d", d.Hours, d.Minutes, d.Seconds, d.TenThousandths)
}

// Now returns the current wall-clock time of day in the local timezone.
func Now() DayTime {
	t := time.Now()
	return NewDayTime(uint8(t.Hour()), uint8(t.Minute()), uint8(t.Second()), uint16(t.Nanosecond()/100000))
}
