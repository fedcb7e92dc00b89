package protocol

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/trackwall/dwa/internal/racetime"
)

func TestServerMessageRoundTrip(t *testing.T) {
	cases := []ServerMessage{
		{Tag: TagRequestVersion},
		{Tag: TagClear},
		{Tag: TagDisplayText, Text: "hello wall"},
		{Tag: TagServerImposedSettings, Settings: ServerImposedSettings{
			X: 10, Y: 20, W: 1920, H: 1080,
			SlideshowDurationMs: 2000, SlideshowTransitionMs: 200, MaxDecimalPlaces: 2,
		}},
		{Tag: TagDisplayExternalFrame, ExternalBMP: []byte{1, 2, 3, 4}},
		{Tag: TagAdvertisementImages, Ads: []AdImage{
			{Name: "a.png", Bytes: []byte{9, 9}},
			{Name: "b.jpg", Bytes: []byte{}},
		}},
		{Tag: TagAdvertisements},
		{Tag: TagTiming, Timing: TimingUpdate{Tag: TagTimingReset}},
		{Tag: TagTiming, Timing: TimingUpdate{
			Tag:  TagTimingRunning,
			Time: racetime.FromFields(racetime.Fields{Minutes: 5, Seconds: 3, Tenths: 8}),
		}},
		{Tag: TagClock, Clock: racetime.NewDayTime(11, 19, 56, 6500)},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteServerMessage(&buf, want); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := ReadServerMessage(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Tag != want.Tag {
			t.Fatalf("tag mismatch: got %v want %v", got.Tag, want.Tag)
		}
	}
}

func TestClientMessageRoundTrip(t *testing.T) {
	cases := []ClientMessage{
		{Tag: TagVersion, Version: "1.2.3"},
		{Tag: TagCurrentWindow, WindowBMP: []byte{0xBE, 0xEF}},
		{Tag: TagFrametimeReport, FrametimeMicros: 16667},
	}
	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteClientMessage(&buf, want); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := ReadClientMessage(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Tag != want.Tag {
			t.Fatalf("tag mismatch: got %v want %v", got.Tag, want.Tag)
		}
	}
}

func TestReadServerMessageSplitAcrossTwoFrames(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteServerMessage(&buf, ServerMessage{Tag: TagClear}); err != nil {
		t.Fatal(err)
	}
	if err := WriteServerMessage(&buf, ServerMessage{Tag: TagDisplayText, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	r := bufio.NewReader(&buf)
	first, err := ReadServerMessage(r)
	if err != nil || first.Tag != TagClear {
		t.Fatalf("first = %+v, err = %v", first, err)
	}
	second, err := ReadServerMessage(r)
	if err != nil || second.Tag != TagDisplayText || second.Text != "x" {
		t.Fatalf("second = %+v, err = %v", second, err)
	}
}

func TestReadServerMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	buf.Write(lenBuf[:])
	if _, err := ReadServerMessage(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}
