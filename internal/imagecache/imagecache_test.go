package imagecache

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func solidSource(w, h int) ImageMeta {
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = byte(i % 256)
	}
	return ImageMeta{ID: uuid.New(), Width: w, Height: h, Pixels: pix}
}

func TestGetIsIdempotent(t *testing.T) {
	s := NewCachedImageScaler()
	src := solidSource(8, 8)
	s.Register(src)

	a, err := s.Get(src.ID, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Get(src.ID, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Pixels, b.Pixels) {
		t.Error("second Get returned a different buffer than the first")
	}
	if a.ID != b.ID {
		t.Error("second Get returned a different cache identity")
	}
}

func TestGetIdentityScaleReturnsSource(t *testing.T) {
	s := NewCachedImageScaler()
	src := solidSource(8, 8)
	s.Register(src)

	got, err := s.Get(src.ID, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != src.ID {
		t.Errorf("identity scale returned id %s, want source id %s", got.ID, src.ID)
	}
}

func TestPurgeRemovesAllEntriesForID(t *testing.T) {
	s := NewCachedImageScaler()
	src := solidSource(8, 8)
	s.Register(src)
	if _, err := s.Get(src.ID, 4, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(src.ID, 2, 2); err != nil {
		t.Fatal(err)
	}

	s.Purge(src.ID)

	if _, err := s.Get(src.ID, 4, 4); err == nil {
		t.Error("expected error after purge, source should no longer resolve")
	}
}

func TestAnimationRequiresNonEmptyFrames(t *testing.T) {
	if _, err := NewAnimation(nil, 1); err == nil {
		t.Error("expected error for empty frame list")
	}
}

func TestAnimationRequiresPositiveFrameRate(t *testing.T) {
	frames := []ImageMeta{solidSource(2, 2)}
	if _, err := NewAnimation(frames, 0); err == nil {
		t.Error("expected error for realFramesPerFrame < 1")
	}
}

func TestAnimationPlayerLoopsFrameSequence(t *testing.T) {
	frames := []ImageMeta{solidSource(2, 2), solidSource(2, 2), solidSource(2, 2)}
	anim, err := NewAnimation(frames, 2)
	if err != nil {
		t.Fatal(err)
	}
	p := NewAnimationPlayer(anim, 10, true)

	cases := []struct {
		f    uint64
		want int
	}{
		{10, 0}, {11, 0}, {12, 1}, {13, 1}, {14, 2}, {15, 2}, {16, 0},
	}
	for _, c := range cases {
		got, ok := p.Frame(c.f)
		if !ok {
			t.Fatalf("frame %d: expected ok=true", c.f)
		}
		if got.ID != frames[c.want].ID {
			t.Errorf("frame %d: got frame index != %d", c.f, c.want)
		}
	}
}

func TestAnimationPlayerStopsAfterOnePlaythroughWhenNotLooping(t *testing.T) {
	frames := []ImageMeta{solidSource(2, 2), solidSource(2, 2)}
	anim, err := NewAnimation(frames, 1)
	if err != nil {
		t.Fatal(err)
	}
	p := NewAnimationPlayer(anim, 0, false)

	if _, ok := p.Frame(1); !ok {
		t.Fatal("expected last frame of playthrough to still be ok")
	}
	if _, ok := p.Frame(2); ok {
		t.Fatal("expected playback to end after one full playthrough")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	logo, anim, err := LoadBuiltin()
	if err != nil {
		t.Fatal(err)
	}
	if logo.Width == 0 || logo.Height == 0 {
		t.Fatal("logo has zero dimensions")
	}
	if len(anim.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(anim.Frames))
	}
}
