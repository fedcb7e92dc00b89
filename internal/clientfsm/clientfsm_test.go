package clientfsm

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/trackwall/dwa/internal/imagecache"
	"github.com/trackwall/dwa/internal/protocol"
)

func newMachine() *Machine {
	m := New(imagecache.NewCachedImageScaler(), "1.0.0-test")
	m.WindowW, m.WindowH = 64, 48
	return m
}

func TestRequestVersionFromCreatedGoesIdleAndEmitsVersion(t *testing.T) {
	m := newMachine()
	out, err := m.Apply(protocol.ServerMessage{Tag: protocol.TagRequestVersion})
	if err != nil {
		t.Fatal(err)
	}
	if m.State.Kind != Idle {
		t.Fatalf("state = %v, want Idle", m.State.Kind)
	}
	if len(out) != 1 || out[0].Tag != protocol.TagVersion || out[0].Version != "1.0.0-test" {
		t.Fatalf("got %+v", out)
	}
}

func TestDisplayTextSetsState(t *testing.T) {
	m := newMachine()
	_, err := m.Apply(protocol.ServerMessage{Tag: protocol.TagDisplayText, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if m.State.Kind != DisplayText || m.State.Text != "hello" {
		t.Fatalf("got %+v", m.State)
	}
}

func TestServerImposedSettingsSetsPendingGeometry(t *testing.T) {
	m := newMachine()
	_, err := m.Apply(protocol.ServerMessage{
		Tag: protocol.TagServerImposedSettings,
		Settings: protocol.ServerImposedSettings{
			X: 1, Y: 2, W: 800, H: 600,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	g, ok := m.ApplyGeometry()
	if !ok {
		t.Fatal("expected pending geometry to be set")
	}
	if g.W != 800 || g.H != 600 {
		t.Errorf("got %+v", g)
	}
	if m.WindowW != 800 || m.WindowH != 600 {
		t.Errorf("window dims not applied: %dx%d", m.WindowW, m.WindowH)
	}
	if _, ok := m.ApplyGeometry(); ok {
		t.Error("expected pending geometry to be cleared after ApplyGeometry")
	}
}

func TestClearGoesIdle(t *testing.T) {
	m := newMachine()
	m.Apply(protocol.ServerMessage{Tag: protocol.TagDisplayText, Text: "x"})
	m.Apply(protocol.ServerMessage{Tag: protocol.TagClear})
	if m.State.Kind != Idle {
		t.Fatalf("state = %v, want Idle", m.State.Kind)
	}
}

func encodeTestBMP(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDisplayExternalFrameDecodesAndRescales(t *testing.T) {
	m := newMachine()
	data := encodeTestBMP(t, 16, 12)
	_, err := m.Apply(protocol.ServerMessage{Tag: protocol.TagDisplayExternalFrame, ExternalBMP: data})
	if err != nil {
		t.Fatal(err)
	}
	if m.State.Kind != DisplayExternalFrame {
		t.Fatalf("state = %v, want DisplayExternalFrame", m.State.Kind)
	}
	if m.State.ExternalFrame.Width != m.WindowW || m.State.ExternalFrame.Height != m.WindowH {
		t.Errorf("frame not rescaled to window: got %dx%d, want %dx%d",
			m.State.ExternalFrame.Width, m.State.ExternalFrame.Height, m.WindowW, m.WindowH)
	}
}

func TestAdvertisementImagesThenAdvertisementsState(t *testing.T) {
	m := newMachine()
	data := encodeTestBMP(t, 4, 4)
	_, err := m.Apply(protocol.ServerMessage{
		Tag: protocol.TagAdvertisementImages,
		Ads: []protocol.AdImage{{Name: "a.bmp", Bytes: data}},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Apply(protocol.ServerMessage{Tag: protocol.TagAdvertisements})
	if err != nil {
		t.Fatal(err)
	}
	if m.State.Kind != Advertisements {
		t.Fatalf("state = %v, want Advertisements", m.State.Kind)
	}
	if len(m.State.AdIDs) != 1 {
		t.Fatalf("got %d ad ids, want 1", len(m.State.AdIDs))
	}
}

func TestTimingMessageDrivesSubMachine(t *testing.T) {
	m := newMachine()
	_, err := m.Apply(protocol.ServerMessage{
		Tag:    protocol.TagTiming,
		Timing: protocol.TimingUpdate{Tag: protocol.TagTimingRunning},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.State.Kind != Timing || m.State.TimingMachine == nil {
		t.Fatalf("state = %+v", m.State)
	}
}

func TestClockSetsState(t *testing.T) {
	m := newMachine()
	_, err := m.Apply(protocol.ServerMessage{Tag: protocol.TagClock})
	if err != nil {
		t.Fatal(err)
	}
	if m.State.Kind != Clock {
		t.Fatalf("state = %v, want Clock", m.State.Kind)
	}
}
