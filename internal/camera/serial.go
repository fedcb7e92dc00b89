package camera

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/trackwall/dwa/internal/racetime"
)

// ParseSerialLine decodes a single ASCII-serial record (the bytes between
// two 0x0D terminators, with the terminator itself already stripped) into a
// SerialEvent. Any trailing bytes the caller captured past the terminator
// are its concern, not this function's — per the dialect, a terminator
// pattern follows CR and is consumed and ignored by the framer.
func ParseSerialLine(line string) (SerialEvent, error) {
	if strings.TrimSpace(line) == "" {
		return SerialEvent{Kind: SerialZeroTime}, nil
	}

	trimmed := strings.TrimSpace(line)
	switch trimmed[0] {
	case '.':
		rt, err := parseClockString(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return SerialEvent{}, fmt.Errorf("camera serial: race time: %w", err)
		}
		return SerialEvent{Kind: SerialRaceTime, Race: rt}, nil
	case 'B':
		rt, err := parseClockString(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return SerialEvent{}, fmt.Errorf("camera serial: intermediate time: %w", err)
		}
		return SerialEvent{Kind: SerialIntermediateTime, Intermediate: rt}, nil
	case 'C':
		rt, err := parseClockString(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return SerialEvent{}, fmt.Errorf("camera serial: end time: %w", err)
		}
		return SerialEvent{Kind: SerialEndTime, End: rt}, nil
	}

	if isAllZeroDecimal(trimmed) {
		return SerialEvent{Kind: SerialZeroTime}, nil
	}

	dt, err := parseDayTimeString(trimmed)
	if err != nil {
		return SerialEvent{}, fmt.Errorf("camera serial: unrecognized line %q: %w", line, err)
	}
	return SerialEvent{Kind: SerialDayTime, DayTime: dt}, nil
}

// isAllZeroDecimal reports whether s consists only of '0' digits, optionally
// separated by ':' or '.' — the "all-zero decimal" sentinel.
func isAllZeroDecimal(s string) bool {
	seenDigit := false
	for _, r := range s {
		switch {
		case r == '0':
			seenDigit = true
		case r == ':' || r == '.':
			// separators are allowed anywhere in an all-zero string
		default:
			return false
		}
	}
	return seenDigit
}

// parseClockString parses "[[H:]M:]S[.frac]" into a RaceTime. Each digit of
// the fractional part maps to its own decimal place (tenths, hundredths,
// ...); missing trailing digits are zero.
func parseClockString(s string) (racetime.RaceTime, error) {
	whole, fracStr, _ := strings.Cut(s, ".")
	parts := strings.Split(whole, ":")
	var h, m, sec uint64
	var err error
	switch len(parts) {
	case 1:
		sec, err = parseUint(parts[0])
	case 2:
		m, err = parseUint(parts[0])
		if err == nil {
			sec, err = parseUint(parts[1])
		}
	case 3:
		h, err = parseUint(parts[0])
		if err == nil {
			m, err = parseUint(parts[1])
		}
		if err == nil {
			sec, err = parseUint(parts[2])
		}
	default:
		return racetime.RaceTime{}, fmt.Errorf("too many ':' separators in %q", s)
	}
	if err != nil {
		return racetime.RaceTime{}, err
	}

	fields := racetime.Fields{Hours: h, Minutes: m, Seconds: sec}
	if fracStr != "" {
		padded := (fracStr + "0000")[:4]
		digits := make([]uint64, 4)
		for i := 0; i < 4; i++ {
			d, err := parseUint(string(padded[i]))
			if err != nil {
				return racetime.RaceTime{}, fmt.Errorf("fractional digits %q: %w", fracStr, err)
			}
			digits[i] = d
		}
		fields.Tenths = digits[0]
		fields.Hundredths = digits[1]
		fields.Thousandths = digits[2]
		fields.TenThousands = digits[3]
	}
	return racetime.FromFields(fields), nil
}

// parseDayTimeString parses a bare "hh:mm:ss" string into a DayTime.
func parseDayTimeString(s string) (racetime.DayTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return racetime.DayTime{}, fmt.Errorf("expected hh:mm:ss, got %q", s)
	}
	h, err := parseUint(parts[0])
	if err != nil {
		return racetime.DayTime{}, err
	}
	m, err := parseUint(parts[1])
	if err != nil {
		return racetime.DayTime{}, err
	}
	sec, err := parseUint(parts[2])
	if err != nil {
		return racetime.DayTime{}, err
	}
	return racetime.NewDayTime(uint8(h), uint8(m), uint8(sec), 0), nil
}

func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	return strconv.ParseUint(s, 10, 64)
}

// SerialScanner streams 0x0D-terminated records from r and parses each as a
// SerialEvent. Malformed records are reported but do not stop the scan.
type SerialScanner struct {
	scanner *bufio.Scanner
}

// NewSerialScanner wraps r with a 0x0D-delimited split function.
func NewSerialScanner(r io.Reader) *SerialScanner {
	s := bufio.NewScanner(r)
	s.Split(splitOnCR)
	return &SerialScanner{scanner: s}
}

// Next returns the next parsed event, or io.EOF when the stream ends.
// A parse error on one record does not end the stream — call Next again.
func (s *SerialScanner) Next() (SerialEvent, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return SerialEvent{}, err
		}
		return SerialEvent{}, io.EOF
	}
	return ParseSerialLine(s.scanner.Text())
}

// splitOnCR is a bufio.SplitFunc that terminates each token at 0x0D,
// stripping the terminator from the returned token.
func splitOnCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == 0x0D {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
