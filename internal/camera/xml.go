package camera

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/trackwall/dwa/internal/racetime"
)

// heatTimingXML is the wire shape shared by HeatStart, HeatFinish, and
// HeatIntermediate records.
type heatTimingXML struct {
	HeatID       string `xml:"HeatId,attr"`
	SessionID    string `xml:"SessionId,attr"`
	EventID      string `xml:"EventId,attr"`
	Lane         int    `xml:"Lane,attr"`
	Time         string `xml:"Time,attr"`
	IsFalseStart string `xml:"IsFalseStart,attr"`
}

type startlistEntryXML struct {
	Lane       int    `xml:"Lane,attr"`
	Competitor string `xml:"Competitor,attr"`
}

type startlistXML struct {
	HeatID    string              `xml:"HeatId,attr"`
	SessionID string              `xml:"SessionId,attr"`
	EventID   string              `xml:"EventId,attr"`
	Entries   []startlistEntryXML `xml:"Entry"`
}

type windXML struct {
	HeatID    string `xml:"HeatId,attr"`
	SessionID string `xml:"SessionId,attr"`
	EventID   string `xml:"EventId,attr"`
	Wind      string `xml:"Wind,attr"`
	WindUnit  string `xml:"WindUnit,attr"`
}

type competitorEvaluatedXML struct {
	HeatID           string `xml:"HeatId,attr"`
	SessionID        string `xml:"SessionId,attr"`
	EventID          string `xml:"EventId,attr"`
	Competitor       string `xml:"Competitor,attr"`
	Disqualification string `xml:"Disqualification,attr"`
}

type resultEntryXML struct {
	Lane                  int    `xml:"Lane,attr"`
	Competitor            string `xml:"Competitor,attr"`
	Time                  string `xml:"Time,attr"`
	DifferenceToCandidate string `xml:"DifferenceToCandidate,attr"`
	Disqualification      string `xml:"Disqualification,attr"`
}

type resultXML struct {
	HeatID    string           `xml:"HeatId,attr"`
	SessionID string           `xml:"SessionId,attr"`
	EventID   string           `xml:"EventId,attr"`
	Entries   []resultEntryXML `xml:"Entry"`
}

// ParseRecordTime parses a camera program RaceTime attribute string. The
// XML dialect uses the same "[[h:]m:]s[.frac]" grammar as the ASCII-serial
// stream, so the two parsers share parseClockString.
func ParseRecordTime(s string) (racetime.RaceTime, error) {
	return parseClockString(s)
}

// ParseXMLRecord decodes a single record (the bytes between two 0x0D
// terminators, terminator already stripped) into a HeatEvent. The root
// element name selects the shape; anything the camera program might emit
// that isn't one of the recognized roots is a hard error rather than a
// silently dropped record, since XML records (unlike serial clock lines)
// always carry enough structure to be either fully understood or flagged.
func ParseXMLRecord(record []byte) (HeatEvent, error) {
	root, err := peekRootName(record)
	if err != nil {
		return HeatEvent{}, fmt.Errorf("camera xml: %w", err)
	}

	switch root {
	case "HeatStart":
		var x heatTimingXML
		if err := xml.Unmarshal(record, &x); err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatStart: %w", err)
		}
		shared, err := x.shared()
		if err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatStart: %w", err)
		}
		if x.IsFalseStart == "true" {
			fs := &HeatFalseStart{heatTimingShared: shared}
			return HeatEvent{Kind: KindHeatFalseStart, FalseStart: fs}, nil
		}
		return HeatEvent{Kind: KindHeatStart, Start: &HeatStart{heatTimingShared: shared}}, nil

	case "HeatFinish":
		var x heatTimingXML
		if err := xml.Unmarshal(record, &x); err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatFinish: %w", err)
		}
		shared, err := x.shared()
		if err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatFinish: %w", err)
		}
		return HeatEvent{Kind: KindHeatFinish, Finish: &HeatFinish{heatTimingShared: shared}}, nil

	case "HeatIntermediate":
		var x heatTimingXML
		if err := xml.Unmarshal(record, &x); err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatIntermediate: %w", err)
		}
		shared, err := x.shared()
		if err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatIntermediate: %w", err)
		}
		return HeatEvent{Kind: KindHeatIntermediate, Intermediate: &HeatIntermediate{heatTimingShared: shared}}, nil

	case "HeatStartlist":
		var x startlistXML
		if err := xml.Unmarshal(record, &x); err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatStartlist: %w", err)
		}
		entries := make([]HeatStartlistEntry, len(x.Entries))
		for i, e := range x.Entries {
			entries[i] = HeatStartlistEntry{Lane: e.Lane, Competitor: e.Competitor}
		}
		return HeatEvent{Kind: KindHeatStartlist, StartList: &HeatStartlist{
			HeatID: x.HeatID, SessionID: x.SessionID, EventID: x.EventID, Entries: entries,
		}}, nil

	case "HeatWind":
		var x windXML
		if err := xml.Unmarshal(record, &x); err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatWind: %w", err)
		}
		hw := &HeatWind{HeatID: x.HeatID, SessionID: x.SessionID, EventID: x.EventID}
		if x.Wind == "" {
			hw.Missing = true
			return HeatEvent{Kind: KindHeatWind, Wind: hw}, nil
		}
		if x.WindUnit != "MetersPerSecond" {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatWind: unsupported WindUnit %q", x.WindUnit)
		}
		wind, err := ParseRaceWind(x.Wind)
		if err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatWind: %w", err)
		}
		hw.Wind = wind
		return HeatEvent{Kind: KindHeatWind, Wind: hw}, nil

	case "CompetitorEvaluated":
		var x competitorEvaluatedXML
		if err := xml.Unmarshal(record, &x); err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: CompetitorEvaluated: %w", err)
		}
		return HeatEvent{Kind: KindCompetitorEvaluated, Competitor: &CompetitorEvaluated{
			HeatID: x.HeatID, SessionID: x.SessionID, EventID: x.EventID,
			Competitor: x.Competitor, Disqualification: ParseDisqualification(x.Disqualification),
		}}, nil

	case "HeatResult":
		var x resultXML
		if err := xml.Unmarshal(record, &x); err != nil {
			return HeatEvent{}, fmt.Errorf("camera xml: HeatResult: %w", err)
		}
		entries := make([]HeatResultEntry, len(x.Entries))
		for i, e := range x.Entries {
			t, err := ParseRecordTime(e.Time)
			if err != nil {
				return HeatEvent{}, fmt.Errorf("camera xml: HeatResult: entry %d time: %w", i, err)
			}
			diff, err := ParseDifferenceToCandidate(e.DifferenceToCandidate, ParseRecordTime)
			if err != nil {
				return HeatEvent{}, fmt.Errorf("camera xml: HeatResult: entry %d: %w", i, err)
			}
			entries[i] = HeatResultEntry{
				Lane: e.Lane, Competitor: e.Competitor, Time: t,
				Difference: diff, Disqualification: ParseDisqualification(e.Disqualification),
			}
		}
		return HeatEvent{Kind: KindHeatResult, Result: &HeatResult{
			HeatID: x.HeatID, SessionID: x.SessionID, EventID: x.EventID, Entries: entries,
		}}, nil

	default:
		return HeatEvent{}, fmt.Errorf("camera xml: unrecognized root element %q", root)
	}
}

func (x heatTimingXML) shared() (heatTimingShared, error) {
	t, err := ParseRecordTime(x.Time)
	if err != nil {
		return heatTimingShared{}, err
	}
	return heatTimingShared{
		HeatID: x.HeatID, SessionID: x.SessionID, EventID: x.EventID,
		Lane: x.Lane, Time: t,
	}, nil
}

// peekRootName returns the local name of record's root element without
// fully decoding it, so ParseXMLRecord can dispatch on shape before paying
// for a typed unmarshal.
func peekRootName(record []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(record))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("reading root element: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// XMLScanner streams 0x0D-terminated XML records from r and parses each as
// a HeatEvent.
type XMLScanner struct {
	scanner *bufio.Scanner
}

// NewXMLScanner wraps r with the same 0x0D-delimited split function the
// ASCII-serial stream uses.
func NewXMLScanner(r io.Reader) *XMLScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	s.Split(splitOnCR)
	return &XMLScanner{scanner: s}
}

// Next returns the next parsed event, or io.EOF when the stream ends. A
// malformed or unrecognized record returns its error but does not end the
// scan — call Next again to resume at the following record.
func (s *XMLScanner) Next() (HeatEvent, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return HeatEvent{}, err
		}
		return HeatEvent{}, io.EOF
	}
	return ParseXMLRecord(s.scanner.Bytes())
}
