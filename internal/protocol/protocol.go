// Package protocol implements the length-delimited binary envelope exchanged
// with the display client: a fixed 4-byte big-endian length prefix followed
// by a deterministic binary encoding of one of the two message sum types
// described in the adapter's data model (Server->Client, Client->Server).
package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/trackwall/dwa/internal/racetime"
)

// maxEnvelopeBytes guards against a corrupt or hostile length prefix turning
// into an unbounded allocation.
const maxEnvelopeBytes = 64 << 20

// ServerToClientTag is the wire discriminant for the Server->Client sum type.
type ServerToClientTag uint8

const (
	TagRequestVersion ServerToClientTag = iota
	TagDisplayText
	TagServerImposedSettings
	TagClear
	TagDisplayExternalFrame
	TagAdvertisementImages
	TagAdvertisements
	TagTiming
	TagClock
)

// ClientToServerTag is the wire discriminant for the Client->Server sum type.
type ClientToServerTag uint8

const (
	TagVersion ClientToServerTag = iota
	TagCurrentWindow
	TagFrametimeReport
)

// TimingUpdateTag discriminates the payload carried by TagTiming.
type TimingUpdateTag uint8

const (
	TagTimingReset TimingUpdateTag = iota
	TagTimingRunning
	TagTimingIntermediate
	TagTimingEnd
)

// AdImage is one (name, bytes) pair inside an AdvertisementImages message.
type AdImage struct {
	Name  string
	Bytes []byte
}

// ServerImposedSettings mirrors §3's settings envelope, sent on every client
// (re)connection and again after each web-control settings override.
type ServerImposedSettings struct {
	X, Y, W, H            int32
	SlideshowDurationMs   uint32
	SlideshowTransitionMs uint32
	MaxDecimalPlaces      uint8
}

// TimingUpdate carries the sub-machine input described in §4.8.
type TimingUpdate struct {
	Tag  TimingUpdateTag
	Time racetime.RaceTime
}

// ServerMessage is the closed Server->Client sum type. Exactly one field
// besides Tag is meaningful per value of Tag.
type ServerMessage struct {
	Tag ServerToClientTag

	Text        string
	Settings    ServerImposedSettings
	ExternalBMP []byte
	Ads         []AdImage
	Timing      TimingUpdate
	Clock       racetime.DayTime
}

// ClientMessage is the closed Client->Server sum type.
type ClientMessage struct {
	Tag ClientToServerTag

	Version         string
	WindowBMP       []byte
	FrametimeMicros uint64
}

// WriteServerMessage length-delimits and writes m to w.
func WriteServerMessage(w io.Writer, m ServerMessage) error {
	payload, err := encodeServerMessage(m)
	if err != nil {
		return errors.Wrap(err, "protocol: encoding server message")
	}
	return writeFramed(w, payload)
}

// ReadServerMessage reads one length-delimited frame from r and decodes it.
func ReadServerMessage(r *bufio.Reader) (ServerMessage, error) {
	payload, err := readFramed(r)
	if err != nil {
		return ServerMessage{}, err
	}
	return decodeServerMessage(payload)
}

// WriteClientMessage length-delimits and writes m to w.
func WriteClientMessage(w io.Writer, m ClientMessage) error {
	payload, err := encodeClientMessage(m)
	if err != nil {
		return errors.Wrap(err, "protocol: encoding client message")
	}
	return writeFramed(w, payload)
}

// ReadClientMessage reads one length-delimited frame from r and decodes it.
func ReadClientMessage(r *bufio.Reader) (ClientMessage, error) {
	payload, err := readFramed(r)
	if err != nil {
		return ClientMessage{}, err
	}
	return decodeClientMessage(payload)
}

func writeFramed(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "protocol: writing length prefix")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "protocol: writing payload")
	}
	return nil
}

func readFramed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxEnvelopeBytes {
		return nil, errors.Errorf("protocol: frame length %d exceeds maximum %d", n, maxEnvelopeBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "protocol: reading payload")
	}
	return payload, nil
}

type byteWriter struct {
	buf []byte
}

func (b *byteWriter) u8(v uint8)   { b.buf = append(b.buf, v) }
func (b *byteWriter) u32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }
func (b *byteWriter) u64(v uint64) { b.buf = binary.BigEndian.AppendUint64(b.buf, v) }
func (b *byteWriter) i32(v int32)  { b.u32(uint32(v)) }
func (b *byteWriter) bytes(v []byte) {
	b.u32(uint32(len(v)))
	b.buf = append(b.buf, v...)
}
func (b *byteWriter) str(v string) { b.bytes([]byte(v)) }

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return errors.Errorf("protocol: truncated payload (need %d bytes at offset %d, have %d)", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *byteReader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}

func (r *byteReader) str() (string, error) {
	b, err := r.bytesField()
	return string(b), err
}

func encodeServerMessage(m ServerMessage) ([]byte, error) {
	w := &byteWriter{}
	w.u8(uint8(m.Tag))
	switch m.Tag {
	case TagRequestVersion, TagClear, TagAdvertisements:
		// no payload
	case TagDisplayText:
		w.str(m.Text)
	case TagServerImposedSettings:
		s := m.Settings
		w.i32(s.X)
		w.i32(s.Y)
		w.i32(s.W)
		w.i32(s.H)
		w.u32(s.SlideshowDurationMs)
		w.u32(s.SlideshowTransitionMs)
		w.u8(s.MaxDecimalPlaces)
	case TagDisplayExternalFrame:
		w.bytes(m.ExternalBMP)
	case TagAdvertisementImages:
		w.u32(uint32(len(m.Ads)))
		for _, ad := range m.Ads {
			w.str(ad.Name)
			w.bytes(ad.Bytes)
		}
	case TagTiming:
		w.u8(uint8(m.Timing.Tag))
		if m.Timing.Tag != TagTimingReset {
			w.u64(m.Timing.Time.ToTenThousandths(4))
		}
	case TagClock:
		w.u8(m.Clock.Hours)
		w.u8(m.Clock.Minutes)
		w.u8(m.Clock.Seconds)
		w.u32(uint32(m.Clock.TenThousandths))
	default:
		return nil, errors.Errorf("protocol: unknown server message tag %d", m.Tag)
	}
	return w.buf, nil
}

func decodeServerMessage(payload []byte) (ServerMessage, error) {
	r := &byteReader{buf: payload}
	tagByte, err := r.u8()
	if err != nil {
		return ServerMessage{}, err
	}
	tag := ServerToClientTag(tagByte)
	m := ServerMessage{Tag: tag}
	switch tag {
	case TagRequestVersion, TagClear, TagAdvertisements:
	case TagDisplayText:
		m.Text, err = r.str()
	case TagServerImposedSettings:
		var s ServerImposedSettings
		if s.X, err = r.i32(); err != nil {
			break
		}
		if s.Y, err = r.i32(); err != nil {
			break
		}
		if s.W, err = r.i32(); err != nil {
			break
		}
		if s.H, err = r.i32(); err != nil {
			break
		}
		if s.SlideshowDurationMs, err = r.u32(); err != nil {
			break
		}
		if s.SlideshowTransitionMs, err = r.u32(); err != nil {
			break
		}
		s.MaxDecimalPlaces, err = r.u8()
		m.Settings = s
	case TagDisplayExternalFrame:
		m.ExternalBMP, err = r.bytesField()
	case TagAdvertisementImages:
		var n uint32
		if n, err = r.u32(); err != nil {
			break
		}
		ads := make([]AdImage, n)
		for i := range ads {
			if ads[i].Name, err = r.str(); err != nil {
				break
			}
			if ads[i].Bytes, err = r.bytesField(); err != nil {
				break
			}
		}
		m.Ads = ads
	case TagTiming:
		var tt uint8
		if tt, err = r.u8(); err != nil {
			break
		}
		m.Timing.Tag = TimingUpdateTag(tt)
		if m.Timing.Tag != TagTimingReset {
			var n uint64
			if n, err = r.u64(); err != nil {
				break
			}
			m.Timing.Time = racetime.FromTenThousandths(n, 4)
		}
	case TagClock:
		var h, mi, s uint8
		var frac uint32
		if h, err = r.u8(); err != nil {
			break
		}
		if mi, err = r.u8(); err != nil {
			break
		}
		if s, err = r.u8(); err != nil {
			break
		}
		if frac, err = r.u32(); err != nil {
			break
		}
		m.Clock = racetime.NewDayTime(h, mi, s, uint16(frac))
	default:
		return ServerMessage{}, errors.Errorf("protocol: unknown server message tag %d", tag)
	}
	if err != nil {
		return ServerMessage{}, errors.Wrap(err, "protocol: decoding server message")
	}
	return m, nil
}

func encodeClientMessage(m ClientMessage) ([]byte, error) {
	w := &byteWriter{}
	w.u8(uint8(m.Tag))
	switch m.Tag {
	case TagVersion:
		w.str(m.Version)
	case TagCurrentWindow:
		w.bytes(m.WindowBMP)
	case TagFrametimeReport:
		w.u64(m.FrametimeMicros)
	default:
		return nil, errors.Errorf("protocol: unknown client message tag %d", m.Tag)
	}
	return w.buf, nil
}

func decodeClientMessage(payload []byte) (ClientMessage, error) {
	r := &byteReader{buf: payload}
	tagByte, err := r.u8()
	if err != nil {
		return ClientMessage{}, err
	}
	tag := ClientToServerTag(tagByte)
	m := ClientMessage{Tag: tag}
	switch tag {
	case TagVersion:
		m.Version, err = r.str()
	case TagCurrentWindow:
		m.WindowBMP, err = r.bytesField()
	case TagFrametimeReport:
		m.FrametimeMicros, err = r.u64()
	default:
		return ClientMessage{}, errors.Errorf("protocol: unknown client message tag %d", tag)
	}
	if err != nil {
		return ClientMessage{}, errors.Wrap(err, "protocol: decoding client message")
	}
	return m, nil
}
