// Package renderloop implements the display client's 60 Hz cooperative
// tick (C9): geometry application, inbound/outbound draining, rasterizing
// the current client state into an RGBA8 framebuffer, periodic BMP
// snapshotting, and the advertisement slideshow's alpha-blend transition
// math — the per-tick pipeline described in §4.9.
package renderloop

import (
	"bytes"
	"image"
	"image/color"
	"time"

	"github.com/rivo/uniseg"
	"golang.org/x/image/bmp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/trackwall/dwa/internal/bus"
	"github.com/trackwall/dwa/internal/clientfsm"
	"github.com/trackwall/dwa/internal/imagecache"
	"github.com/trackwall/dwa/internal/protocol"
)

// targetFPS and frameInterval are the fixed scheduling constants named in
// §4.9.
const targetFPS = 60

var frameInterval = time.Second / targetFPS

// defaultSnapshotEveryFrames is how often, in frames, the loop re-encodes
// and enqueues the current window as a BMP for the timing program to poll:
// 30 frames is 500 ms at 60 Hz, the default of §6's
// clientEmitsFrameEveryNrOfMs. NewLoop installs it as SnapshotEveryFrames,
// which a caller may override.
const defaultSnapshotEveryFrames = 30

// Loop drives one display client's render tick. It owns no network I/O
// itself — Bus connects it to the peer tasks that do.
type Loop struct {
	Machine *clientfsm.Machine
	Bus     *bus.Bus

	SnapshotEveryFrames int

	// AdFramesPerImage and AdFramesPerTransition are the slideshow pacing
	// knobs §6 expresses in milliseconds (Display.SlideshowDurationMs /
	// SlideshowTransitionMs); Run's caller converts once at startup.
	AdFramesPerImage      uint64
	AdFramesPerTransition uint64

	frameCounter uint64
}

// NewLoop constructs a Loop with the default snapshot cadence.
func NewLoop(m *clientfsm.Machine, b *bus.Bus) *Loop {
	return &Loop{
		Machine:             m,
		Bus:                 b,
		SnapshotEveryFrames: defaultSnapshotEveryFrames,
	}
}

// Run executes the 60 Hz tick loop until ctx-like stop channel closes. It
// is structured as a plain function (not goroutine-spawning) so the caller
// decides how to run it — tests drive it frame-by-frame via Tick.
func (l *Loop) Run(stop <-chan struct{}, sub chan any) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Tick(sub)
		}
	}
}

// Tick runs one pass of the 8-step pipeline from §4.9:
//  1. shutdown check (left to the caller's stop channel)
//  2. frame counter increment
//  3. geometry update
//  4. drain one inbound server message
//  5. outbound: the ClientMessage values step 4 returns (such as the
//     Version reply to RequestVersion) are pushed onto Bus.Inbound as
//     FromClient messages, the same path the step-7 snapshot takes
//  6. rasterize current state into an RGBA8 buffer
//  7. periodic BMP snapshot, encoded and hung on CurrentWindow
//  8. present (returned to the caller as the Frame result)
func (l *Loop) Tick(sub chan any) Frame {
	l.frameCounter++

	if g, ok := l.Machine.ApplyGeometry(); ok {
		_ = g // geometry is already reflected in Machine.WindowW/H
	}

	select {
	case v := <-sub:
		if sm, ok := v.(protocol.ServerMessage); ok {
			out, _ := l.Machine.Apply(sm)
			if l.Bus != nil {
				for _, cm := range out {
					l.Bus.SendInbound(bus.InboundMessage{Source: bus.FromClient, ClientEvent: bus.ClientEvent{Raw: cm}})
				}
			}
		}
	default:
	}

	img := l.rasterize()

	var snapshot []byte
	if l.SnapshotEveryFrames > 0 && l.frameCounter%uint64(l.SnapshotEveryFrames) == 0 {
		var buf bytes.Buffer
		if err := bmp.Encode(&buf, img); err == nil {
			snapshot = buf.Bytes()
			if l.Bus != nil {
				l.Bus.SendInbound(bus.InboundMessage{
					Source: bus.FromClient,
					ClientEvent: bus.ClientEvent{Raw: protocol.ClientMessage{
						Tag:       protocol.TagCurrentWindow,
						WindowBMP: snapshot,
					}},
				})
			}
		}
	}

	return Frame{Image: img, Snapshot: snapshot, Number: l.frameCounter}
}

// Frame is one rendered tick's output.
type Frame struct {
	Image    *image.RGBA
	Snapshot []byte // non-nil only on snapshot frames
	Number   uint64
}

// rasterize draws the client's current state into a window-sized RGBA8
// buffer.
func (l *Loop) rasterize() *image.RGBA {
	w, h := l.Machine.WindowW, l.Machine.WindowH
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	switch l.Machine.State.Kind {
	case clientfsm.DisplayExternalFrame:
		drawImageMeta(img, l.Machine.State.ExternalFrame)
	case clientfsm.Advertisements:
		l.rasterizeAds(img)
	case clientfsm.DisplayText:
		l.renderText(img, l.Machine.State.Text)
	case clientfsm.Timing:
		text := ""
		if tm := l.Machine.State.TimingMachine; tm != nil {
			text = tm.Value(time.Now()).Format(2)
		}
		l.renderText(img, text)
	case clientfsm.Clock:
		l.renderText(img, "")
	default:
		fillSolid(img, color.RGBA{A: 255})
	}
	return img
}

// renderText fills the frame with the background color, then draws text
// centered using the corpus's fixed bitmap face. basicfont ships one
// pixel size, so text wider than the window is measured via uniseg (the
// same monospace-width check the corpus uses for CLI table layout) and
// left-aligned instead of centered, rather than silently clipped off one
// side.
func (l *Loop) renderText(dst *image.RGBA, text string) {
	fillSolid(dst, color.RGBA{A: 255})
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	bounds := dst.Bounds()

	x := (bounds.Dx() - width) / 2
	if uniseg.StringWidth(text) > bounds.Dx() || x < 0 {
		x = 0
	}
	y := bounds.Dy()/2 + face.Ascent/2

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// rasterizeAds selects the current slide as frameCounter/AdFramesPerImage
// mod N, per §4.9, and during the last AdFramesPerTransition frames of that
// slot overlays the next image with its alpha ramped up from 0, reaching
// full opacity as the slot ends (§8's "opacity = 255 * t /
// frames_per_transition" scenario). Selection is a pure function of
// frameCounter — no per-tick state is mutated here.
func (l *Loop) rasterizeAds(dst *image.RGBA) {
	ids := l.Machine.State.AdIDs
	n := len(ids)
	if n == 0 {
		fillSolid(dst, color.RGBA{A: 255})
		return
	}
	framesPerImage := l.AdFramesPerImage
	if framesPerImage == 0 {
		framesPerImage = 1
	}

	index := int((l.frameCounter / framesPerImage) % uint64(n))
	pos := l.frameCounter % framesPerImage

	cur, err := l.Machine.Scaler.Get(ids[index], dst.Bounds().Dx(), dst.Bounds().Dy())
	if err != nil {
		fillSolid(dst, color.RGBA{A: 255})
		return
	}

	if l.AdFramesPerTransition == 0 || framesPerImage <= l.AdFramesPerTransition {
		drawImageMeta(dst, cur)
		return
	}
	tailStart := framesPerImage - l.AdFramesPerTransition
	if pos < tailStart {
		drawImageMeta(dst, cur)
		return
	}

	next, err := l.Machine.Scaler.Get(ids[(index+1)%n], dst.Bounds().Dx(), dst.Bounds().Dy())
	if err != nil {
		drawImageMeta(dst, cur)
		return
	}
	t := pos - tailStart + 1
	opacity := uint8(255 * t / l.AdFramesPerTransition)
	blendImageMeta(dst, cur, next, opacity)
}

func drawImageMeta(dst *image.RGBA, m imagecache.ImageMeta) {
	src := m.AsImage()
	b := dst.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if x < m.Width && y < m.Height {
				dst.Set(x, y, src.At(x, y))
			}
		}
	}
}

// blendImageMeta linearly interpolates each pixel of a toward b by
// opacity/255, writing the result into dst.
func blendImageMeta(dst *image.RGBA, a, b imagecache.ImageMeta, opacity uint8) {
	imgA, imgB := a.AsImage(), b.AsImage()
	bounds := dst.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			ca := colorAt(imgA, x, y, a.Width, a.Height)
			cb := colorAt(imgB, x, y, b.Width, b.Height)
			dst.Set(x, y, lerp(ca, cb, opacity))
		}
	}
}

func colorAt(img *image.RGBA, x, y, w, h int) color.RGBA {
	if x >= w || y >= h {
		return color.RGBA{A: 255}
	}
	r, g, bl, a := img.At(x, y).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: uint8(a >> 8)}
}

func lerp(a, b color.RGBA, t uint8) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8((int(x)*(255-int(t)) + int(y)*int(t)) / 255)
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

func fillSolid(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}
