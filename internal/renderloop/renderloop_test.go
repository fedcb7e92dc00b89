package renderloop

import (
	"image"
	"testing"

	"github.com/google/uuid"

	"github.com/trackwall/dwa/internal/bus"
	"github.com/trackwall/dwa/internal/clientfsm"
	"github.com/trackwall/dwa/internal/imagecache"
	"github.com/trackwall/dwa/internal/protocol"
)

func newTestMachine() *clientfsm.Machine {
	m := clientfsm.New(imagecache.NewCachedImageScaler(), "test")
	m.WindowW, m.WindowH = 16, 8
	return m
}

func TestTickIncrementsFrameCounter(t *testing.T) {
	l := NewLoop(newTestMachine(), bus.New())
	sub := make(chan any, 1)
	f1 := l.Tick(sub)
	f2 := l.Tick(sub)
	if f2.Number != f1.Number+1 {
		t.Errorf("frame numbers = %d, %d, want consecutive", f1.Number, f2.Number)
	}
}

func TestTickAppliesPendingServerMessage(t *testing.T) {
	m := newTestMachine()
	l := NewLoop(m, bus.New())
	sub := make(chan any, 1)
	sub <- protocol.ServerMessage{Tag: protocol.TagDisplayText, Text: "hello"}

	l.Tick(sub)

	if m.State.Kind != clientfsm.DisplayText || m.State.Text != "hello" {
		t.Errorf("got %+v", m.State)
	}
}

func TestTickSnapshotsOnSchedule(t *testing.T) {
	l := NewLoop(newTestMachine(), bus.New())
	l.SnapshotEveryFrames = 3
	sub := make(chan any, 1)

	var snapshots int
	for i := 0; i < 9; i++ {
		f := l.Tick(sub)
		if f.Snapshot != nil {
			snapshots++
		}
	}
	if snapshots != 3 {
		t.Errorf("got %d snapshots, want 3", snapshots)
	}
}

func TestTickSnapshotPublishesCurrentWindowToBus(t *testing.T) {
	m := newTestMachine()
	b := bus.New()
	l := NewLoop(m, b)
	l.SnapshotEveryFrames = 1
	sub := make(chan any, 1)

	l.Tick(sub)

	select {
	case msg := <-b.Inbound:
		cm, ok := msg.ClientEvent.Raw.(protocol.ClientMessage)
		if !ok || cm.Tag != protocol.TagCurrentWindow {
			t.Errorf("got %+v", msg)
		}
	default:
		t.Fatal("expected a CurrentWindow message on the bus")
	}
}

func TestRasterizeExternalFrameCopiesPixels(t *testing.T) {
	m := newTestMachine()
	scaler := m.Scaler
	src := imagecache.ImageMeta{Width: 16, Height: 8, Pixels: make([]byte, 16*8*4)}
	for i := range src.Pixels {
		src.Pixels[i] = 200
	}
	src.ID = uuid.New()
	scaler.Register(src)
	scaled, err := scaler.Get(src.ID, 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	m.State.Kind = clientfsm.DisplayExternalFrame
	m.State.ExternalFrame = scaled

	l := NewLoop(m, bus.New())
	img := l.rasterize()
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Fatalf("got bounds %v", img.Bounds())
	}
	if got := img.RGBAAt(15, 7); got.R != 200 {
		t.Errorf("pixel (15,7) = %v, want R=200 copied from the frame", got)
	}
}

// solidMeta registers an ad image whose pixels are all one gray level, so
// tests can identify which image (or blend of images) ended up on the
// rendered buffer by reading back a single pixel.
func solidMeta(scaler *imagecache.CachedImageScaler, level byte) uuid.UUID {
	id := uuid.New()
	pixels := make([]byte, 16*8*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = level, level, level, 255
	}
	scaler.Register(imagecache.ImageMeta{ID: id, Width: 16, Height: 8, Pixels: pixels})
	return id
}

func TestRasterizeAdsSelectsImageByFrameCounterModN(t *testing.T) {
	m := newTestMachine()
	id1 := solidMeta(m.Scaler, 200)
	id2 := solidMeta(m.Scaler, 100)
	m.State.Kind = clientfsm.Advertisements
	m.State.AdIDs = []uuid.UUID{id1, id2}

	l := NewLoop(m, bus.New())
	l.AdFramesPerImage = 2
	l.AdFramesPerTransition = 0
	dst := image.NewRGBA(image.Rect(0, 0, 16, 8))

	l.frameCounter = 1 // slot 0: frameCounter/2 mod 2 == 0
	l.rasterizeAds(dst)
	if dst.RGBAAt(0, 0).R != 200 {
		t.Errorf("slot 0 pixel = %d, want 200 (first ad)", dst.RGBAAt(0, 0).R)
	}

	l.frameCounter = 3 // slot 1: frameCounter/2 mod 2 == 1
	l.rasterizeAds(dst)
	if dst.RGBAAt(0, 0).R != 100 {
		t.Errorf("slot 1 pixel = %d, want 100 (second ad)", dst.RGBAAt(0, 0).R)
	}
}

// TestRasterizeAdsCrossfadesDuringTailOfSlot exercises the same 2-ad,
// 2000ms/200ms slideshow configuration as the advertisement crossfade
// scenario in §8: during the last AdFramesPerTransition frames of a slot
// the next image is overlaid with alpha ramping up from 0, reaching full
// opacity exactly as the slot ends, rather than at the slot's start.
func TestRasterizeAdsCrossfadesDuringTailOfSlot(t *testing.T) {
	m := newTestMachine()
	id1 := solidMeta(m.Scaler, 200)
	id2 := solidMeta(m.Scaler, 100)
	m.State.Kind = clientfsm.Advertisements
	m.State.AdIDs = []uuid.UUID{id1, id2}

	l := NewLoop(m, bus.New())
	l.AdFramesPerImage = 120     // 2000ms at 60fps
	l.AdFramesPerTransition = 12 // 200ms at 60fps
	dst := image.NewRGBA(image.Rect(0, 0, 16, 8))

	// Mid-slot: well before the tail window, the slide is solid.
	l.frameCounter = 50
	l.rasterizeAds(dst)
	if got := dst.RGBAAt(0, 0).R; got != 200 {
		t.Errorf("mid-slot pixel = %d, want 200 (solid first ad, no blend)", got)
	}

	// First frame of the tail window (pos == framesPerImage-framesPerTransition):
	// opacity should be the smallest non-zero ramp step, 255*1/12.
	l.frameCounter = 108
	l.rasterizeAds(dst)
	want := byte((200*(255-21) + 100*21) / 255)
	if got := dst.RGBAAt(0, 0).R; got != want {
		t.Errorf("first tail frame pixel = %d, want %d (opacity ~255/12 toward second ad)", got, want)
	}

	// Last frame of the slot: the crossfade has fully completed into the
	// next image.
	l.frameCounter = 119
	l.rasterizeAds(dst)
	if got := dst.RGBAAt(0, 0).R; got != 100 {
		t.Errorf("last tail frame pixel = %d, want 100 (fully blended into second ad)", got)
	}

	// One frame later, the new slot begins and shows the second ad solid.
	l.frameCounter = 120
	l.rasterizeAds(dst)
	if got := dst.RGBAAt(0, 0).R; got != 100 {
		t.Errorf("new slot pixel = %d, want 100 (second ad, solid)", got)
	}
}
