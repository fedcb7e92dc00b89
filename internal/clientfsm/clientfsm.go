// Package clientfsm implements the display client's state machine (C7):
// it interprets server messages into display states, owns the rescale
// cache, and tracks the window geometry the render loop (C9) must apply.
package clientfsm

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/image/bmp"

	"github.com/trackwall/dwa/internal/imagecache"
	"github.com/trackwall/dwa/internal/protocol"
	"github.com/trackwall/dwa/internal/timingfsm"
)

// StateKind is the closed set of client display states from §3/§4.7.
type StateKind int

const (
	Created StateKind = iota
	TimingEmptyInit
	Idle
	DisplayText
	DisplayExternalFrame
	Advertisements
	Timing
	Clock
)

// State is the client's current display state. Exactly one extra field is
// meaningful depending on Kind.
type State struct {
	Kind StateKind

	Text          string
	ExternalFrame imagecache.ImageMeta
	AdIDs         []uuid.UUID
	TimingMachine *timingfsm.Machine
}

// Geometry is a requested window position/size update.
type Geometry struct {
	X, Y, W, H int
}

// Machine is the client state machine. Version is this client's reported
// build identity, sent in response to RequestVersion.
type Machine struct {
	State   State
	Scaler  *imagecache.CachedImageScaler
	Version string

	WindowW, WindowH int

	PendingGeometry         *Geometry
	FireworksOnIntermediate bool
	FireworksOnFinish       bool

	// PersistCoords, if set, is called with the applied (x, y) on every
	// geometry update — the move-container coordinate file the original
	// client writes so the window reopens in its last position.
	PersistCoords func(x, y int)

	adCache []uuid.UUID // ids of currently displayed ad images, for purge-on-replace
}

// New constructs a Machine in the Created state.
func New(scaler *imagecache.CachedImageScaler, version string) *Machine {
	return &Machine{State: State{Kind: Created}, Scaler: scaler, Version: version}
}

// Apply interprets one server message, mutating State/PendingGeometry and
// returning any outbound messages the client should send back (per §4.7's
// "Outputs: next ClientState, window-geometry-update request, and outbound
// messages").
func (m *Machine) Apply(msg protocol.ServerMessage) ([]protocol.ClientMessage, error) {
	switch msg.Tag {
	case protocol.TagRequestVersion:
		if m.State.Kind == Created {
			m.State = State{Kind: Idle}
		}
		return []protocol.ClientMessage{{Tag: protocol.TagVersion, Version: m.Version}}, nil

	case protocol.TagDisplayText:
		m.State = State{Kind: DisplayText, Text: msg.Text}
		return nil, nil

	case protocol.TagServerImposedSettings:
		s := msg.Settings
		m.PendingGeometry = &Geometry{X: int(s.X), Y: int(s.Y), W: int(s.W), H: int(s.H)}
		return nil, nil

	case protocol.TagClear:
		m.State = State{Kind: Idle}
		return nil, nil

	case protocol.TagDisplayExternalFrame:
		img, err := decodeBMP(msg.ExternalBMP)
		if err != nil {
			return nil, errors.Wrap(err, "clientfsm: decoding external frame BMP")
		}
		m.Scaler.Register(img)
		scaled, err := m.Scaler.Get(img.ID, m.WindowW, m.WindowH)
		if err != nil {
			return nil, errors.Wrap(err, "clientfsm: rescaling external frame")
		}
		m.State = State{Kind: DisplayExternalFrame, ExternalFrame: scaled}
		return nil, nil

	case protocol.TagAdvertisementImages:
		m.Scaler.PurgeAll(m.adCache)
		ids := make([]uuid.UUID, 0, len(msg.Ads))
		for _, ad := range msg.Ads {
			img, err := decodeImage(ad.Bytes)
			if err != nil {
				return nil, errors.Wrapf(err, "clientfsm: decoding ad image %q", ad.Name)
			}
			m.Scaler.Register(img)
			ids = append(ids, img.ID)
		}
		m.adCache = lo.Uniq(ids)
		if m.State.Kind == Advertisements {
			m.State.AdIDs = m.adCache
		}
		return nil, nil

	case protocol.TagAdvertisements:
		m.State = State{Kind: Advertisements, AdIDs: m.adCache}
		return nil, nil

	case protocol.TagTiming:
		if m.State.Kind != Timing || m.State.TimingMachine == nil {
			m.State = State{Kind: Timing, TimingMachine: timingfsm.New()}
		}
		update := timingfsm.Update{Kind: timingfsm.UpdateKind(msg.Timing.Tag), Time: msg.Timing.Time}
		m.State.TimingMachine.Apply(update, time.Now(), m.FireworksOnIntermediate, m.FireworksOnFinish)
		return nil, nil

	case protocol.TagClock:
		m.State = State{Kind: Clock}
		return nil, nil

	default:
		return nil, errors.Errorf("clientfsm: unknown server message tag %d", msg.Tag)
	}
}

// ApplyGeometry consumes PendingGeometry (if any), updating WindowW/H and
// clearing the pending flag, as the render loop's per-tick pipeline step 3
// requires.
func (m *Machine) ApplyGeometry() (Geometry, bool) {
	if m.PendingGeometry == nil {
		return Geometry{}, false
	}
	g := *m.PendingGeometry
	m.WindowW, m.WindowH = g.W, g.H
	m.PendingGeometry = nil
	if m.PersistCoords != nil {
		m.PersistCoords(g.X, g.Y)
	}
	return g, true
}

func decodeBMP(data []byte) (imagecache.ImageMeta, error) {
	img, err := bmp.Decode(bytes.NewReader(data))
	if err != nil {
		return imagecache.ImageMeta{}, err
	}
	return toImageMeta(img), nil
}

func decodeImage(data []byte) (imagecache.ImageMeta, error) {
	// Only raw bytes are available here, so no extension picks the
	// decoder: try BMP first, then image.Decode, which sniffs among the
	// registered formats (JPEG and PNG, the advertisement file types of §6).
	if img, err := bmp.Decode(bytes.NewReader(data)); err == nil {
		return toImageMeta(img), nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return imagecache.ImageMeta{}, err
	}
	return toImageMeta(img), nil
}

// toImageMeta converts any decoded image.Image into an immutable RGBA8
// ImageMeta with a fresh cache identity.
func toImageMeta(img image.Image) imagecache.ImageMeta {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return imagecache.ImageMeta{ID: uuid.New(), Width: b.Dx(), Height: b.Dy(), Pixels: rgba.Pix}
}
