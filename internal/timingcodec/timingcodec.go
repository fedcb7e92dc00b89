// Package timingcodec implements the incremental decoder and response
// encoder for the timing program's opaque, length-delimited binary dialect
// (the original a .NET binary-remoting stream; see §9 open question (a) —
// only the subset of instruction shapes needed by the demo paths is
// hard-coded here, the rest is left as a reverse-engineering exercise).
//
// Framing, as implemented: each record is a 4-byte big-endian length
// prefix followed by that many payload bytes, the first payload byte being
// a tag selecting the instruction shape. This is the one concrete framing
// rule consistent with §4.1's "length-prefixed records" and with the
// display-client link's identical 4-byte-BE convention (§6).
package timingcodec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/trackwall/dwa/internal/racetime"
)

// maxRecordBytes bounds a single record's payload; a length prefix beyond
// this is treated as a malformed record rather than an honest large frame.
const maxRecordBytes = 16 << 20

// EventKind is the closed set of instructions the decoder recognizes.
type EventKind int

const (
	EventClientInfo EventKind = iota
	EventFreetext
	EventAdvertisements
	EventClear
	EventStartList
	EventTiming
	EventSetProperty
	EventResults
	EventResultsUpdate
	EventServerInfo
	EventSendFrame
)

// Event is the decoder's output shape. Exactly one payload field is
// meaningful per Kind.
type Event struct {
	Kind EventKind

	Text        string
	Bitmap      []byte
	Timing      racetime.RaceTime
	TimingReset bool
	PropertyKey string
	PropertyVal string
	RawPayload  []byte // StartList, Results, ResultsUpdate: opaque until the remaining grammar is reverse-engineered
	ClientName  string
}

// ResultKind discriminates a ParseResult.
type ResultKind int

const (
	ResultRecord ResultKind = iota
	ResultUnknown
	ResultError
)

// ParseResult is one yielded item from Feed: either a recognized Event, an
// Unknown well-framed record (forwarded verbatim in passthrough), or a
// malformed-record Error with the offset and gap length the decoder
// skipped to resynchronize.
type ParseResult struct {
	Kind ResultKind

	Event        Event
	UnknownBytes []byte
	ErrorOffset  int
	ErrorGapLen  int
	ErrorReason  string
}

// wire tag bytes, one per EventKind, in declaration order.
func tagByte(k EventKind) byte { return byte(k) }

// Decoder incrementally decodes a byte stream into ParseResults. Zero value
// is ready to use.
type Decoder struct {
	buf []byte
}

// Feed appends data to the internal buffer and decodes as many complete
// records as are now available, returning one ParseResult per record. A
// trailing partial record, if any, remains buffered for the next Feed
// call — Feed never panics and is restartable after an Error result.
func (d *Decoder) Feed(data []byte) []ParseResult {
	d.buf = append(d.buf, data...)

	var results []ParseResult
	for {
		if len(d.buf) < 4 {
			break
		}
		n := binary.BigEndian.Uint32(d.buf[:4])
		if n == 0 || n > maxRecordBytes {
			gap := d.resync()
			results = append(results, ParseResult{
				Kind:        ResultError,
				ErrorOffset: 0,
				ErrorGapLen: gap,
				ErrorReason: fmt.Sprintf("length prefix %d out of bounds", n),
			})
			continue
		}
		total := 4 + int(n)
		if len(d.buf) < total {
			break // NeedMore: wait for the rest of this record
		}

		record := d.buf[4:total]
		d.buf = d.buf[total:]

		if len(record) == 0 {
			results = append(results, ParseResult{Kind: ResultUnknown, UnknownBytes: record})
			continue
		}

		ev, ok := decodeRecord(record)
		if ok {
			results = append(results, ParseResult{Kind: ResultRecord, Event: ev})
		} else {
			results = append(results, ParseResult{Kind: ResultUnknown, UnknownBytes: record})
		}
	}
	return results
}

// resync discards bytes from the front of the buffer up to the next byte
// offset whose 4-byte length prefix (if the buffer is long enough to read
// one) looks plausible, or discards everything if no such point exists yet.
// Returns the number of bytes discarded.
func (d *Decoder) resync() int {
	for skip := 1; skip < len(d.buf); skip++ {
		if len(d.buf)-skip < 4 {
			continue
		}
		n := binary.BigEndian.Uint32(d.buf[skip : skip+4])
		if n > 0 && n <= maxRecordBytes {
			d.buf = d.buf[skip:]
			return skip
		}
	}
	gap := len(d.buf)
	d.buf = d.buf[:0]
	return gap
}

func decodeRecord(record []byte) (Event, bool) {
	kind := EventKind(record[0])
	payload := record[1:]

	switch kind {
	case EventClientInfo:
		return Event{Kind: EventClientInfo, ClientName: string(payload)}, true
	case EventFreetext:
		return Event{Kind: EventFreetext, Text: string(payload)}, true
	case EventAdvertisements:
		return Event{Kind: EventAdvertisements}, true
	case EventClear:
		return Event{Kind: EventClear}, true
	case EventStartList:
		return Event{Kind: EventStartList, RawPayload: payload}, true
	case EventTiming:
		if len(payload) < 1 {
			return Event{}, false
		}
		if payload[0] == 0 {
			return Event{Kind: EventTiming, TimingReset: true}, true
		}
		if len(payload) < 9 {
			return Event{}, false
		}
		n := binary.BigEndian.Uint64(payload[1:9])
		return Event{Kind: EventTiming, Timing: racetime.FromTenThousandths(n, 4)}, true
	case EventSetProperty:
		key, val, found := strings.Cut(string(payload), "\x00")
		if !found {
			return Event{}, false
		}
		return Event{Kind: EventSetProperty, PropertyKey: key, PropertyVal: val}, true
	case EventResults:
		return Event{Kind: EventResults, RawPayload: payload}, true
	case EventResultsUpdate:
		return Event{Kind: EventResultsUpdate, RawPayload: payload}, true
	case EventServerInfo:
		return Event{Kind: EventServerInfo}, true
	case EventSendFrame:
		return Event{Kind: EventSendFrame, Bitmap: payload}, true
	default:
		return Event{}, false
	}
}

// ResponseKind discriminates the two synthesized responses C1 can encode.
type ResponseKind int

const (
	ResponseServerInfo ResponseKind = iota
	ResponseFrame
)

// Response is the input to EncodeResponse.
type Response struct {
	Kind ResponseKind

	ClientName string // ResponseServerInfo: the fake client identity to announce
	BMP        []byte // ResponseFrame: raw bitmap payload
}

// EncodeResponse serializes one of the two synthesized response kinds
// using the same length-prefix-plus-tag framing Feed decodes.
func EncodeResponse(r Response) []byte {
	var tag EventKind
	var payload []byte
	switch r.Kind {
	case ResponseServerInfo:
		tag = EventServerInfo
		payload = []byte(r.ClientName)
	case ResponseFrame:
		tag = EventSendFrame
		payload = r.BMP
	}

	record := make([]byte, 1+len(payload))
	record[0] = tagByte(tag)
	copy(record[1:], payload)

	out := make([]byte, 4+len(record))
	binary.BigEndian.PutUint32(out[:4], uint32(len(record)))
	copy(out[4:], record)
	return out
}

// DebugDump renders data as a classic hex-dump (16 bytes per line, offset,
// hex columns, ASCII gutter) for logging Unknown records while an
// implementer reverse-engineers an undocumented instruction shape — the
// same tool the original project's hex.rs provided for this purpose.
func DebugDump(data []byte) string {
	var b strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		end := offset + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[offset:end]
		fmt.Fprintf(&b, "%08x  ", offset)
		for i := 0; i < 16; i++ {
			if i < len(line) {
				fmt.Fprintf(&b, "%02x ", line[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(" |")
		for _, c := range line {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	return b.String()
}
