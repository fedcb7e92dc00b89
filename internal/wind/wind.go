// Package wind implements the wind-measurement exchange's record
// separator delimited JSON protocol (§4/§6): the adapter sends SetTime
// frames and receives Started/Measured frames, each terminated by 0x1E
// rather than the length-prefix framing used elsewhere in the corpus —
// grounded on the bufio.Scanner split-function pattern already used by
// internal/camera's serial and XML scanners.
package wind

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/trackwall/dwa/internal/racetime"
)

const recordSeparator = 0x1E

// MessageKind discriminates the two inbound frame shapes the wind server
// can send.
type MessageKind int

const (
	KindStarted MessageKind = iota
	KindMeasured
)

// Measurement mirrors camera.RaceWind's back-wind/whole/frac shape, since
// both dialects report the same tailwind-positive reading.
type Measurement struct {
	BackWind bool   `json:"backWind"`
	Whole    uint8  `json:"whole"`
	Frac     uint8  `json:"frac"`
	HeatID   string `json:"heatId"`
}

// Message is the tagged union of inbound wind-server frames.
type Message struct {
	Kind        MessageKind
	Measurement Measurement
}

type wireMessage struct {
	Type        string      `json:"type"`
	Measurement Measurement `json:"measurement"`
}

// ParseMessage decodes one 0x1E-delimited JSON record.
func ParseMessage(record []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(record, &w); err != nil {
		return Message{}, errors.Wrap(err, "wind: decoding message")
	}
	switch w.Type {
	case "started":
		return Message{Kind: KindStarted, Measurement: w.Measurement}, nil
	case "measured":
		return Message{Kind: KindMeasured, Measurement: w.Measurement}, nil
	default:
		return Message{}, errors.Errorf("wind: unknown message type %q", w.Type)
	}
}

// EncodeSetTime builds the outbound SetTime frame the adapter pushes to
// keep the wind server's wall clock synchronized, terminated by the
// record separator per the dialect.
func EncodeSetTime(t racetime.DayTime) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Time string `json:"time"`
	}{Type: "setTime", Time: t.String()})
	if err != nil {
		return nil, errors.Wrap(err, "wind: encoding setTime")
	}
	return append(payload, recordSeparator), nil
}

// Scanner streams 0x1E-terminated records from r and parses each as a
// Message. A malformed record is reported but does not stop the scan.
type Scanner struct {
	scanner *bufio.Scanner
}

// NewScanner wraps r with a record-separator split function.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Split(splitOnRS)
	return &Scanner{scanner: s}
}

// Next returns the next parsed message, or io.EOF when the stream ends.
func (s *Scanner) Next() (Message, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, io.EOF
	}
	return ParseMessage(s.scanner.Bytes())
}

func splitOnRS(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, recordSeparator); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
