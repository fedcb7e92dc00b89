// Package imagecache implements the content-addressed image/animation
// cache (C6): a scaler keyed by (id, width, height) backed by
// golang.org/x/image/draw's high-quality resamplers, and animations with
// per-frame-rate playback, built from frames (NewAnimation) or from a
// serialized bundle (DeserializeBundle). There is no loader that reads an
// animation from a directory of image files.
package imagecache

import (
	"encoding/binary"
	"image"
	"image/color"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/image/draw"
)

// ImageMeta is an immutable RGBA8 image plus its cache identity. Multiple
// cache entries may alias the same Pixels buffer (identity scaling); once
// constructed, an ImageMeta is never mutated, so sharing the slice across
// entries is safe without copying per §9's "shared image buffers, no
// cycles" design note.
type ImageMeta struct {
	ID     uuid.UUID
	Width  int
	Height int
	Pixels []byte // RGBA8, row-major, Width*Height*4 bytes
}

// AsImage returns m as a standard library image.Image for use with
// golang.org/x/image/draw and image/png.
func (m ImageMeta) AsImage() *image.RGBA {
	return &image.RGBA{
		Pix:    m.Pixels,
		Stride: m.Width * 4,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

type scaleKey struct {
	id     uuid.UUID
	width  int
	height int
}

// CachedImageScaler maps (id, width, height) to a resized ImageMeta,
// computing the resize with draw.CatmullRom (the highest-quality resampler
// golang.org/x/image/draw offers — the closest real analogue in the
// example corpus to the spec's Lanczos3; see DESIGN.md) on first access
// and returning the cached result thereafter.
type CachedImageScaler struct {
	sources map[uuid.UUID]ImageMeta
	cache   map[scaleKey]ImageMeta
}

// NewCachedImageScaler constructs an empty scaler.
func NewCachedImageScaler() *CachedImageScaler {
	return &CachedImageScaler{
		sources: make(map[uuid.UUID]ImageMeta),
		cache:   make(map[scaleKey]ImageMeta),
	}
}

// Register makes src available as a scale source under its own ID, and
// seeds the cache so Get(src.ID, src.Width, src.Height) is an identity hit.
func (s *CachedImageScaler) Register(src ImageMeta) {
	s.sources[src.ID] = src
	s.cache[scaleKey{src.ID, src.Width, src.Height}] = src
}

// Get returns the cached (id, width, height) entry, computing it from the
// registered source on a miss. Returns an error if id was never
// registered via Register.
func (s *CachedImageScaler) Get(id uuid.UUID, width, height int) (ImageMeta, error) {
	key := scaleKey{id, width, height}
	if hit, ok := s.cache[key]; ok {
		return hit, nil
	}
	src, ok := s.sources[id]
	if !ok {
		return ImageMeta{}, errors.Errorf("imagecache: no registered source for id %s", id)
	}
	if width == src.Width && height == src.Height {
		s.cache[key] = src
		return src, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src.AsImage(), src.AsImage().Bounds(), draw.Over, nil)

	scaled := ImageMeta{ID: uuid.New(), Width: width, Height: height, Pixels: dst.Pix}
	s.cache[key] = scaled
	return scaled, nil
}

// Purge removes every cache entry (and the registered source) whose id
// equals id.
func (s *CachedImageScaler) Purge(id uuid.UUID) {
	delete(s.sources, id)
	for k := range s.cache {
		if k.id == id {
			delete(s.cache, k)
		}
	}
}

// PurgeAll removes every registered source and cached scale whose id is
// found in ids — used when swapping in a fresh advertisement list.
func (s *CachedImageScaler) PurgeAll(ids []uuid.UUID) {
	for _, id := range lo.Uniq(ids) {
		s.Purge(id)
	}
}

// Precache seeds the scaler for (width, height) for every frame of anim,
// optionally purging the animation's prior entries first.
func (s *CachedImageScaler) Precache(anim *Animation, width, height int, purgeFirst bool) error {
	if purgeFirst {
		for _, f := range anim.Frames {
			s.Purge(f.ID)
		}
	}
	for _, f := range anim.Frames {
		if _, ok := s.sources[f.ID]; !ok {
			s.Register(f)
		}
		if _, err := s.Get(f.ID, width, height); err != nil {
			return err
		}
	}
	return nil
}

// Animation is an ordered, non-empty sequence of equally-sized frames.
type Animation struct {
	Frames             []ImageMeta
	RealFramesPerFrame uint64 // 60Hz ticks held per animation frame, >= 1
}

// NewAnimation validates frames (non-empty, identical dimensions) and
// constructs an Animation.
func NewAnimation(frames []ImageMeta, realFramesPerFrame uint64) (*Animation, error) {
	if len(frames) == 0 {
		return nil, errors.New("imagecache: animation must have at least one frame")
	}
	if realFramesPerFrame < 1 {
		return nil, errors.New("imagecache: realFramesPerFrame must be >= 1")
	}
	w, h := frames[0].Width, frames[0].Height
	for i, f := range frames {
		if f.Width != w || f.Height != h {
			return nil, errors.Errorf("imagecache: frame %d has size %dx%d, want %dx%d", i, f.Width, f.Height, w, h)
		}
	}
	return &Animation{Frames: frames, RealFramesPerFrame: realFramesPerFrame}, nil
}

// AnimationPlayer tracks playback of an Animation starting at a given
// global 60Hz frame counter.
type AnimationPlayer struct {
	StartFrame uint64
	Animation  *Animation
	Looping    bool
}

// NewAnimationPlayer constructs a player anchored at startFrame.
func NewAnimationPlayer(anim *Animation, startFrame uint64, looping bool) *AnimationPlayer {
	return &AnimationPlayer{StartFrame: startFrame, Animation: anim, Looping: looping}
}

// Frame returns the ImageMeta to display at global frame f, and whether
// playback is still active. A non-looping player returns ok=false once
// one full playthrough has elapsed.
func (p *AnimationPlayer) Frame(f uint64) (ImageMeta, bool) {
	if f < p.StartFrame {
		return ImageMeta{}, false
	}
	elapsed := f - p.StartFrame
	n := uint64(len(p.Animation.Frames))
	step := elapsed / p.Animation.RealFramesPerFrame
	if !p.Looping && step >= n {
		return ImageMeta{}, false
	}
	return p.Animation.Frames[step%n], true
}

// --- compile-time bundled asset ---
//
// The original client precomputes a binary blob containing the JTA logo
// plus one animation, serialized field-by-field with little-endian
// fixed-int encoding, and embeds it in the binary. This package implements
// that serialization format (SerializeBundle/DeserializeBundle) and ships
// a minimal built-in bundle (a single-pixel placeholder logo plus a
// two-frame placeholder animation) so LoadBuiltin works out of the box;
// a real asset pipeline would replace builtinBundle with a go:embed'd file
// produced by an offline tool.

// SerializeBundle encodes logo and anim as:
//   [logo: width u32][height u32][pixels]
//   [frame count u32][real_frames_per_frame u32]
//   frame count * ( [width u32][height u32][pixels] )
func SerializeBundle(logo ImageMeta, anim *Animation) []byte {
	var buf []byte
	buf = appendImage(buf, logo)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(anim.Frames)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(anim.RealFramesPerFrame))
	for _, f := range anim.Frames {
		buf = appendImage(buf, f)
	}
	return buf
}

func appendImage(buf []byte, img ImageMeta) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(img.Width))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(img.Height))
	buf = append(buf, img.Pixels...)
	return buf
}

// DeserializeBundle decodes the format SerializeBundle produces, assigning
// a fresh UUID to each decoded image.
func DeserializeBundle(data []byte) (logo ImageMeta, anim *Animation, err error) {
	r := &bundleReader{buf: data}

	logo, err = r.readImage()
	if err != nil {
		return ImageMeta{}, nil, errors.Wrap(err, "imagecache: decoding bundled logo")
	}

	frameCount, err := r.u32()
	if err != nil {
		return ImageMeta{}, nil, err
	}
	rfp, err := r.u32()
	if err != nil {
		return ImageMeta{}, nil, err
	}

	frames := make([]ImageMeta, frameCount)
	for i := range frames {
		frames[i], err = r.readImage()
		if err != nil {
			return ImageMeta{}, nil, errors.Wrapf(err, "imagecache: decoding bundled animation frame %d", i)
		}
	}

	anim, err = NewAnimation(frames, uint64(rfp))
	if err != nil {
		return ImageMeta{}, nil, err
	}
	return logo, anim, nil
}

type bundleReader struct {
	buf []byte
	pos int
}

func (r *bundleReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errors.New("imagecache: truncated bundle")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *bundleReader) readImage() (ImageMeta, error) {
	w, err := r.u32()
	if err != nil {
		return ImageMeta{}, err
	}
	h, err := r.u32()
	if err != nil {
		return ImageMeta{}, err
	}
	n := int(w) * int(h) * 4
	if r.pos+n > len(r.buf) {
		return ImageMeta{}, errors.New("imagecache: truncated bundle pixels")
	}
	pixels := make([]byte, n)
	copy(pixels, r.buf[r.pos:r.pos+n])
	r.pos += n
	return ImageMeta{ID: uuid.New(), Width: int(w), Height: int(h), Pixels: pixels}, nil
}

// LoadBuiltin deserializes the compiled-in placeholder bundle. A real
// distribution replaces builtinBundle() with the bytes of an offline
// asset-build step (see the comment above SerializeBundle).
func LoadBuiltin() (logo ImageMeta, anim *Animation, err error) {
	return DeserializeBundle(builtinBundle())
}

func builtinBundle() []byte {
	logo := ImageMeta{Width: 1, Height: 1, Pixels: solidPixel(color.RGBA{R: 0x1a, G: 0x4d, B: 0x8f, A: 0xff})}
	frame0 := ImageMeta{Width: 1, Height: 1, Pixels: solidPixel(color.RGBA{R: 0xff, G: 0xd7, B: 0x00, A: 0xff})}
	frame1 := ImageMeta{Width: 1, Height: 1, Pixels: solidPixel(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})}
	anim, err := NewAnimation([]ImageMeta{frame0, frame1}, 6)
	if err != nil {
		panic(err) // constructed from known-good constants above
	}
	return SerializeBundle(logo, anim)
}

func solidPixel(c color.RGBA) []byte {
	return []byte{c.R, c.G, c.B, c.A}
}
