// Package camera parses the two streams emitted by the camera/photo-finish
// program: an XML event stream and an ASCII-serial clock stream. Both are
// record-terminated by a single 0x0D (carriage return) byte; neither framing
// depends on a length prefix, unlike the timing dialect in internal/timingcodec.
package camera

import (
	"fmt"

	"github.com/trackwall/dwa/internal/racetime"
	"periph.io/x/conn/v3/physic"
)

// Disqualification is a closed set of reasons a competitor did not finish
// normally, plus a catch-all for strings the corpus hasn't seen yet.
type Disqualification struct {
	Kind DisqualificationKind
	Raw  string // populated only when Kind == DisqualificationOther
}

type DisqualificationKind int

const (
	DisqualificationNone DisqualificationKind = iota
	DisqualificationDisqualified
	DisqualificationDidNotStart
	DisqualificationDidNotFinish
	DisqualificationCanceled
	DisqualificationOther
)

// ParseDisqualification maps the camera program's disqualification strings
// onto the closed taxonomy, falling back to DisqualificationOther for
// anything unrecognized rather than erroring — disqualification text is
// advisory, never a parse-blocking field.
func ParseDisqualification(s string) Disqualification {
	switch s {
	case "":
		return Disqualification{Kind: DisqualificationNone}
	case "Disqualified":
		return Disqualification{Kind: DisqualificationDisqualified}
	case "DidNotStart":
		return Disqualification{Kind: DisqualificationDidNotStart}
	case "DidNotFinish":
		return Disqualification{Kind: DisqualificationDidNotFinish}
	case "Canceled":
		return Disqualification{Kind: DisqualificationCanceled}
	default:
		return Disqualification{Kind: DisqualificationOther, Raw: s}
	}
}

// DifferenceToCandidate is either the literal "Sieger" ("winner") marker or
// a parsed RaceTime gap to the leader.
type DifferenceToCandidate struct {
	Winner bool
	Gap    racetime.RaceTime
}

// ParseDifferenceToCandidate implements the "Sieger" special case from the
// camera program's XML dialect: a literal "Sieger" means this competitor IS
// the candidate being compared against (the winner); anything else is a
// RaceTime gap.
func ParseDifferenceToCandidate(s string, parseRT func(string) (racetime.RaceTime, error)) (DifferenceToCandidate, error) {
	if s == "Sieger" {
		return DifferenceToCandidate{Winner: true}, nil
	}
	rt, err := parseRT(s)
	if err != nil {
		return DifferenceToCandidate{}, fmt.Errorf("difference to candidate: %w", err)
	}
	return DifferenceToCandidate{Gap: rt}, nil
}

// RaceWind carries a wind reading decomposed the way the camera program's
// scoreboard firmware expects it: a sign (BackWind — wind blowing from
// behind the competitor, i.e. a tailwind) plus whole and fractional
// magnitude digits. Positive wind readings are a tailwind (BackWind=true);
// negative readings are a headwind (BackWind=false).
type RaceWind struct {
	BackWind bool
	Whole    uint8
	Frac     uint8 // single decimal digit, 0-9
}

// Speed returns the wind reading as a unit-safe physic.Speed (negative for
// a headwind), for components that want to do arithmetic or formatting
// rather than inspect the raw digits.
func (w RaceWind) Speed() physic.Speed {
	magnitude := physic.Speed(w.Whole)*physic.MetrePerSecond + physic.Speed(w.Frac)*physic.MetrePerSecond/10
	if !w.BackWind {
		return -magnitude
	}
	return magnitude
}

// ParseRaceWind decodes a decimal string like "-1.3" or "2.0" into a
// RaceWind. The unit is assumed to already be validated as meters per
// second by the caller (the XML parser rejects any other WindUnit).
func ParseRaceWind(s string) (RaceWind, error) {
	neg := false
	trimmed := s
	if len(trimmed) > 0 && (trimmed[0] == '-' || trimmed[0] == '+') {
		neg = trimmed[0] == '-'
		trimmed = trimmed[1:]
	}
	wholeStr, fracStr, hasFrac := cutOnce(trimmed, '.')
	whole, err := parseUint(wholeStr)
	if err != nil {
		return RaceWind{}, fmt.Errorf("wind value %q: %w", s, err)
	}
	var frac uint64
	if hasFrac && len(fracStr) > 0 {
		frac, err = parseUint(fracStr[:1])
		if err != nil {
			return RaceWind{}, fmt.Errorf("wind value %q: %w", s, err)
		}
	}
	return RaceWind{BackWind: !neg, Whole: uint8(whole), Frac: uint8(frac)}, nil
}

func cutOnce(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// HeatEvent is the closed set of record kinds the XML parser can produce.
// Exactly one field is meaningful per value of Kind.
type HeatEvent struct {
	Kind HeatEventKind

	Start        *HeatStart
	Finish       *HeatFinish
	Intermediate *HeatIntermediate
	FalseStart   *HeatFalseStart
	StartList    *HeatStartlist
	Wind         *HeatWind
	Competitor   *CompetitorEvaluated
	Result       *HeatResult
}

type HeatEventKind int

const (
	KindHeatStart HeatEventKind = iota
	KindHeatFinish
	KindHeatIntermediate
	KindHeatFalseStart
	KindHeatStartlist
	KindHeatWind
	KindCompetitorEvaluated
	KindHeatResult
)

// heatTimingShared is the shape common to HeatStart, HeatFinish, and
// HeatIntermediate — the spec calls these out as sharing one wire shape.
type heatTimingShared struct {
	HeatID    string
	SessionID string
	EventID   string
	Lane      int
	Time      racetime.RaceTime
}

type HeatStart struct{ heatTimingShared }
type HeatFinish struct{ heatTimingShared }
type HeatIntermediate struct{ heatTimingShared }

// HeatFalseStart is a HeatStart record whose IsFalseStart attribute was true.
type HeatFalseStart struct{ heatTimingShared }

type HeatStartlistEntry struct {
	Lane      int
	Competitor string
}

type HeatStartlist struct {
	HeatID    string
	SessionID string
	EventID   string
	Entries   []HeatStartlistEntry
}

// HeatWind carries a parsed wind reading, or signals that the wind field
// was absent from the wire record via Missing.
type HeatWind struct {
	HeatID    string
	SessionID string
	EventID   string
	Wind      RaceWind
	Missing   bool
}

type CompetitorEvaluated struct {
	HeatID           string
	SessionID        string
	EventID          string
	Competitor       string
	Disqualification Disqualification
}

type HeatResultEntry struct {
	Lane             int
	Competitor       string
	Time             racetime.RaceTime
	Difference       DifferenceToCandidate
	Disqualification Disqualification
}

type HeatResult struct {
	HeatID    string
	SessionID string
	EventID   string
	Entries   []HeatResultEntry
}

// SerialEvent is the closed set of updates the ASCII-serial clock stream
// can produce.
type SerialEvent struct {
	Kind         SerialEventKind
	DayTime      racetime.DayTime
	Intermediate racetime.RaceTime
	End          racetime.RaceTime
	Race         racetime.RaceTime
}

type SerialEventKind int

const (
	SerialZeroTime SerialEventKind = iota
	SerialDayTime
	SerialIntermediateTime
	SerialEndTime
	SerialRaceTime
)
