// Package serverfsm implements the server state machine (C4): the single
// consumer of the bus's inbound channel, the passthrough/intercept mode
// flag, and the translation from inbound events into outbound broadcasts.
package serverfsm

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/trackwall/dwa/internal/ads"
	"github.com/trackwall/dwa/internal/bus"
	"github.com/trackwall/dwa/internal/camera"
	"github.com/trackwall/dwa/internal/protocol"
	"github.com/trackwall/dwa/internal/timingcodec"
	"github.com/trackwall/dwa/internal/webcontrol"
)

// Mode is the server's two-value passthrough state from §3/§4.4.
type Mode int

const (
	PassthroughClient Mode = iota
	PassthroughDisplayProgram
)

// Storage is the permanent-log collaborator C4 writes through. It is
// intentionally a narrow interface here — the concrete SQLite-backed
// implementation lives in internal/storage — so serverfsm stays free of
// any dependency on database/sql.
type Storage interface {
	AppendAndUpsert(table string, id string, data []byte) error
}

// State is the mutual-exclusion-guarded mode flag plus the version last
// reported by the connected client and the settings overrides an operator
// has applied via the web-control socket.
type State struct {
	mu            sync.Mutex
	mode          Mode
	clientVersion string
	settings      protocol.ServerImposedSettings
}

// ModeObserver is a read-only handle onto State's mode, so peer tasks can
// test passthrough mode without contending with the writer for a full
// lock scope (§4.4/§5: "expose it via a copy-on-read handle backed by the
// same lock to avoid contention").
type ModeObserver struct {
	state *State
}

// Mode returns the current passthrough mode.
func (o ModeObserver) Mode() Mode {
	o.state.mu.Lock()
	defer o.state.mu.Unlock()
	return o.state.mode
}

// Machine is the server state machine: it owns State and drains one bus
// per server instance.
type Machine struct {
	state   State
	Bus     *bus.Bus
	Storage Storage

	PassthroughToDisplayProgram bool

	// AdsDir is the advertisement image directory, scanned on every
	// client Version handshake and on a ReloadAdvertisements web-control
	// command.
	AdsDir string

	// EncodeTimingResponse encodes the SendFrame reply a client
	// CurrentWindow becomes in PassthroughClient mode; cmd/server sets it
	// to timingcodec.EncodeResponse. While it is nil, CurrentWindow
	// messages are dropped.
	EncodeTimingResponse func(timingcodec.Response) []byte
}

// New constructs a Machine starting in PassthroughClient, per §4.4.
func New(b *bus.Bus, storage Storage, passthroughToDisplayProgram bool) *Machine {
	return &Machine{
		state:                       State{mode: PassthroughClient},
		Bus:                         b,
		Storage:                     storage,
		PassthroughToDisplayProgram: passthroughToDisplayProgram,
	}
}

// reloadAdvertisements rescans AdsDir and publishes the refreshed image set
// to the display client.
func (m *Machine) reloadAdvertisements() {
	if m.AdsDir == "" {
		return
	}
	images, err := ads.Load(m.AdsDir)
	if err != nil {
		log.Println("serverfsm: loading advertisement images:", err)
		return
	}
	out := make([]protocol.AdImage, 0, len(images))
	for _, img := range images {
		out = append(out, protocol.AdImage{Name: img.Name, Bytes: img.Bytes})
	}
	m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagAdvertisementImages, Ads: out})
}

// Observer returns a read-only handle onto the mode flag.
func (m *Machine) Observer() ModeObserver {
	return ModeObserver{state: &m.state}
}

// Run drains Bus.Inbound until the channel is closed, dispatching each
// message per §4.4's table. It is meant to run as the sole intake task.
func (m *Machine) Run() {
	for msg := range m.Bus.Inbound {
		m.handle(msg)
	}
}

func (m *Machine) handle(msg bus.InboundMessage) {
	switch msg.Source {
	case bus.FromClient:
		m.handleClient(msg.ClientEvent)
	case bus.FromTimingProgram:
		m.handleTimingProgram(msg.TimingEvent)
	case bus.FromCameraProgram:
		m.handleCamera(msg)
	case bus.FromWebControl:
		m.handleWebControl(msg.WebControl)
	case bus.FromWindServer:
		m.handleWind(msg.WindEvent)
	}
}

func (m *Machine) handleClient(ev bus.ClientEvent) {
	cm, ok := ev.Raw.(protocol.ClientMessage)
	if !ok {
		return
	}
	switch cm.Tag {
	case protocol.TagVersion:
		m.state.mu.Lock()
		m.state.clientVersion = cm.Version
		settings := m.state.settings
		m.state.mu.Unlock()
		m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagServerImposedSettings, Settings: settings})
		m.reloadAdvertisements()
		m.Bus.ToTimingProgram.Publish(timingcodec.Response{Kind: timingcodec.ResponseServerInfo})
	case protocol.TagCurrentWindow:
		if m.Observer().Mode() == PassthroughClient && m.EncodeTimingResponse != nil {
			frame := m.EncodeTimingResponse(timingcodec.Response{Kind: timingcodec.ResponseFrame, BMP: cm.WindowBMP})
			m.Bus.ToTimingProgram.Publish(frame)
		}
	case protocol.TagFrametimeReport:
		m.Bus.ToWebControl.Publish(cm)
	}
}

func (m *Machine) handleTimingProgram(ev bus.TimingProgramEvent) {
	te, ok := ev.Raw.(timingcodec.Event)
	if !ok {
		return
	}
	switch te.Kind {
	case timingcodec.EventFreetext:
		m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagDisplayText, Text: te.Text})
	case timingcodec.EventClear:
		m.state.mu.Lock()
		if m.PassthroughToDisplayProgram {
			if m.state.mode == PassthroughClient {
				m.state.mode = PassthroughDisplayProgram
			} else {
				m.state.mode = PassthroughClient
			}
		} else {
			m.state.mode = PassthroughClient
		}
		m.state.mu.Unlock()
		m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagClear})
	case timingcodec.EventSendFrame:
		if m.Observer().Mode() == PassthroughDisplayProgram {
			m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagDisplayExternalFrame, ExternalBMP: te.Bitmap})
		}
	case timingcodec.EventAdvertisements:
		if m.Observer().Mode() == PassthroughClient {
			m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagAdvertisements})
		}
	case timingcodec.EventTiming:
		tag := protocol.TagTimingRunning
		if te.TimingReset {
			tag = protocol.TagTimingReset
		}
		m.Bus.ToClient.Publish(protocol.ServerMessage{
			Tag:    protocol.TagTiming,
			Timing: protocol.TimingUpdate{Tag: tag, Time: te.Timing},
		})
	}
}

func (m *Machine) handleCamera(msg bus.InboundMessage) {
	ev := msg.CameraEvent
	var table, id string
	switch ev.Kind {
	case camera.KindHeatStart:
		table, id = "heat_starts", ev.Start.HeatID
	case camera.KindHeatFinish:
		table, id = "heat_finishes", ev.Finish.HeatID
	case camera.KindHeatIntermediate:
		table, id = "heat_intermediates", ev.Intermediate.HeatID
	case camera.KindHeatFalseStart:
		table, id = "heat_false_starts", ev.FalseStart.HeatID
	case camera.KindHeatStartlist:
		table, id = "heat_start_lists", ev.StartList.HeatID
	case camera.KindHeatResult:
		table, id = "heat_results", ev.Result.HeatID
	}
	if table != "" && m.Storage != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Println("serverfsm: marshaling camera event:", err)
		} else {
			if err := m.Storage.AppendAndUpsert(table, id, data); err != nil {
				log.Println("serverfsm: storage write failed:", err)
			}
			// permanent_storage is the append-only history named in §3's
			// PermanentStorageRecord; it is keyed by a fresh id per record
			// rather than the heat's own id so successive events for the
			// same heat accumulate instead of overwriting each other.
			if err := m.Storage.AppendAndUpsert("permanent_storage", uuid.New().String(), data); err != nil {
				log.Println("serverfsm: permanent_storage write failed:", err)
			}
		}
	}

	switch ev.Kind {
	case camera.KindHeatStart:
		m.Bus.ToClient.Publish(protocol.ServerMessage{
			Tag: protocol.TagTiming,
			Timing: protocol.TimingUpdate{
				Tag: protocol.TagTimingRunning, Time: ev.Start.Time,
			},
		})
	case camera.KindHeatIntermediate:
		m.Bus.ToClient.Publish(protocol.ServerMessage{
			Tag: protocol.TagTiming,
			Timing: protocol.TimingUpdate{
				Tag: protocol.TagTimingIntermediate, Time: ev.Intermediate.Time,
			},
		})
	case camera.KindHeatFinish:
		m.Bus.ToClient.Publish(protocol.ServerMessage{
			Tag: protocol.TagTiming,
			Timing: protocol.TimingUpdate{
				Tag: protocol.TagTimingEnd, Time: ev.Finish.Time,
			},
		})
	}
}

func (m *Machine) handleWebControl(ev bus.WebControlEvent) {
	switch raw := ev.Raw.(type) {
	case webcontrol.SettingsChangeMsg:
		m.applySettingsChange(raw)
	case webcontrol.ReloadAdvertisementsMsg:
		m.reloadAdvertisements()
	}
}

// applySettingsChange applies one operator-issued override and rebroadcasts
// it to the display client, per §4.4's "translate FromWebControl::* to
// client broadcasts (mode changes, free text, settings overrides)".
func (m *Machine) applySettingsChange(msg webcontrol.SettingsChangeMsg) {
	switch msg.Key {
	case "mode":
		var mode string
		if err := json.Unmarshal(msg.RawValue, &mode); err != nil {
			log.Println("serverfsm: malformed mode settings change:", err)
			return
		}
		m.state.mu.Lock()
		switch mode {
		case "passthroughClient":
			m.state.mode = PassthroughClient
		case "passthroughDisplayProgram":
			m.state.mode = PassthroughDisplayProgram
		default:
			m.state.mu.Unlock()
			log.Println("serverfsm: unknown mode in settings change:", mode)
			return
		}
		m.state.mu.Unlock()
		m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagClear})

	case "freeText":
		var text string
		if err := json.Unmarshal(msg.RawValue, &text); err != nil {
			log.Println("serverfsm: malformed freeText settings change:", err)
			return
		}
		m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagDisplayText, Text: text})

	default:
		var n int32
		if err := json.Unmarshal(msg.RawValue, &n); err != nil {
			log.Println("serverfsm: malformed settings override:", err)
			return
		}
		m.state.mu.Lock()
		switch msg.Key {
		case "x":
			m.state.settings.X = n
		case "y":
			m.state.settings.Y = n
		case "w":
			m.state.settings.W = n
		case "h":
			m.state.settings.H = n
		case "slideshowDurationMs":
			m.state.settings.SlideshowDurationMs = uint32(n)
		case "slideshowTransitionMs":
			m.state.settings.SlideshowTransitionMs = uint32(n)
		case "maxDecimalPlaces":
			m.state.settings.MaxDecimalPlaces = uint8(n)
		default:
			m.state.mu.Unlock()
			log.Println("serverfsm: unknown settings key:", msg.Key)
			return
		}
		settings := m.state.settings
		m.state.mu.Unlock()
		m.Bus.ToClient.Publish(protocol.ServerMessage{Tag: protocol.TagServerImposedSettings, Settings: settings})
	}
}

func (m *Machine) handleWind(ev bus.WindEvent) {
	m.Bus.ToClient.Publish(ev)
}
