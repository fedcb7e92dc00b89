package timingcodec

import (
	"testing"

	"github.com/trackwall/dwa/internal/racetime"
)

func buildRecord(t *testing.T, kind EventKind, payload []byte) []byte {
	t.Helper()
	record := append([]byte{byte(kind)}, payload...)
	out := make([]byte, 4+len(record))
	out[0] = byte(len(record) >> 24)
	out[1] = byte(len(record) >> 16)
	out[2] = byte(len(record) >> 8)
	out[3] = byte(len(record))
	copy(out[4:], record)
	return out
}

func TestFeedSingleRecordWhole(t *testing.T) {
	var d Decoder
	data := buildRecord(t, EventFreetext, []byte("hello"))
	results := d.Feed(data)
	if len(results) != 1 || results[0].Kind != ResultRecord {
		t.Fatalf("got %+v", results)
	}
	if results[0].Event.Text != "hello" {
		t.Errorf("got %q, want hello", results[0].Event.Text)
	}
}

func TestFeedSingleRecordByteAtATime(t *testing.T) {
	var whole Decoder
	data := buildRecord(t, EventFreetext, []byte("hello"))
	wantResults := whole.Feed(data)

	var incremental Decoder
	var got []ParseResult
	for _, b := range data {
		got = append(got, incremental.Feed([]byte{b})...)
	}
	if len(got) != len(wantResults) {
		t.Fatalf("got %d results feeding byte-at-a-time, want %d", len(got), len(wantResults))
	}
	if got[0].Event.Text != wantResults[0].Event.Text {
		t.Errorf("got %q, want %q", got[0].Event.Text, wantResults[0].Event.Text)
	}
}

func TestFeedTwoRecordsAnyByteSplit(t *testing.T) {
	r1 := buildRecord(t, EventClear, nil)
	r2 := buildRecord(t, EventAdvertisements, nil)
	concat := append(append([]byte{}, r1...), r2...)

	for split := 0; split <= len(concat); split++ {
		var d Decoder
		results := d.Feed(concat[:split])
		results = append(results, d.Feed(concat[split:])...)
		if len(results) != 2 {
			t.Fatalf("split %d: got %d results, want 2", split, len(results))
		}
		if results[0].Event.Kind != EventClear || results[1].Event.Kind != EventAdvertisements {
			t.Fatalf("split %d: got kinds %v, %v", split, results[0].Event.Kind, results[1].Event.Kind)
		}
	}
}

func TestFeedMalformedLengthResyncs(t *testing.T) {
	var d Decoder
	bad := []byte{0xFF, 0xFF, 0xFF, 0xFF} // implausible length
	good := buildRecord(t, EventClear, nil)
	results := d.Feed(append(bad, good...))

	var sawError, sawClear bool
	for _, r := range results {
		if r.Kind == ResultError {
			sawError = true
		}
		if r.Kind == ResultRecord && r.Event.Kind == EventClear {
			sawClear = true
		}
	}
	if !sawError || !sawClear {
		t.Fatalf("got %+v, want an Error followed by a recovered Clear record", results)
	}
}

func TestFeedUnrecognizedTagYieldsUnknown(t *testing.T) {
	var d Decoder
	data := buildRecord(t, EventKind(200), []byte{1, 2, 3})
	results := d.Feed(data)
	if len(results) != 1 || results[0].Kind != ResultUnknown {
		t.Fatalf("got %+v", results)
	}
}

func TestEncodeResponseServerInfoRoundTrips(t *testing.T) {
	var d Decoder
	data := EncodeResponse(Response{Kind: ResponseServerInfo, ClientName: "jta-fake-client"})
	results := d.Feed(data)
	if len(results) != 1 || results[0].Kind != ResultRecord {
		t.Fatalf("got %+v", results)
	}
	if results[0].Event.Kind != EventServerInfo {
		t.Errorf("kind = %v, want EventServerInfo", results[0].Event.Kind)
	}
}

func TestEncodeResponseFrameRoundTrips(t *testing.T) {
	var d Decoder
	bmp := []byte{0x42, 0x4D, 1, 2, 3}
	data := EncodeResponse(Response{Kind: ResponseFrame, BMP: bmp})
	results := d.Feed(data)
	if len(results) != 1 || results[0].Kind != ResultRecord {
		t.Fatalf("got %+v", results)
	}
	if results[0].Event.Kind != EventSendFrame {
		t.Fatalf("kind = %v, want EventSendFrame", results[0].Event.Kind)
	}
	if string(results[0].Event.Bitmap) != string(bmp) {
		t.Errorf("got %v, want %v", results[0].Event.Bitmap, bmp)
	}
}

func TestFeedTimingEvent(t *testing.T) {
	var d Decoder
	rt := racetime.FromFields(racetime.Fields{Minutes: 5, Seconds: 3, Tenths: 8})
	payload := make([]byte, 9)
	payload[0] = 1
	n := rt.ToTenThousandths(4)
	for i := 0; i < 8; i++ {
		payload[1+i] = byte(n >> (56 - 8*i))
	}
	data := buildRecord(t, EventTiming, payload)
	results := d.Feed(data)
	if len(results) != 1 || results[0].Kind != ResultRecord {
		t.Fatalf("got %+v", results)
	}
	if results[0].Event.Timing.Format(1) != rt.Format(1) {
		t.Errorf("got %v, want %v", results[0].Event.Timing, rt)
	}
}
