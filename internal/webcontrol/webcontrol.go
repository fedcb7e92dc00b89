// Package webcontrol implements the internal web-control surface: a
// gorilla/websocket hub serving the operator UI, grounded on the teacher's
// server/hub.go client-registration and fan-out pattern, generalized from
// browser-panel control messages to the adapter's settings/status
// exchange.
package webcontrol

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/trackwall/dwa/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusMsg mirrors the server's current passthrough mode and client
// version to connected operator UIs.
type StatusMsg struct {
	Type          string `json:"type"` // always "status"
	Mode          string `json:"mode"`
	ClientVersion string `json:"clientVersion"`
}

// SettingsChangeMsg is sent by the UI to request a runtime settings change,
// which the hub republishes onto the bus for serverfsm to apply.
type SettingsChangeMsg struct {
	Type     string          `json:"type"` // always "settingsChange"
	Key      string          `json:"key"`
	RawValue json.RawMessage `json:"value"`
}

// ReloadAdvertisementsMsg asks the server to re-scan the advertisement
// image directory and push the refreshed set to the display client.
type ReloadAdvertisementsMsg struct {
	Type string `json:"type"` // always "reloadAdvertisements"
}

// commandType is the minimal shape used to dispatch an inbound UI message
// to its concrete struct before republishing it onto the bus.
type commandType struct {
	Type string `json:"type"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out status updates and current-window snapshots to every
// connected operator UI, and forwards inbound settings changes onto the
// bus for the server state machine to apply.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	bus     *bus.Bus
}

// NewHub constructs an empty Hub bound to b.
func NewHub(b *bus.Bus) *Hub {
	return &Hub{clients: make(map[*client]struct{}), bus: b}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Println("webcontrol: client registered, total:", len(h.clients))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Println("webcontrol: client unregistered, total:", len(h.clients))
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// BroadcastStatus sends msg (JSON text frame) to every connected client.
func (h *Hub) BroadcastStatus(msg StatusMsg) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Println("webcontrol: marshal error:", err)
		return
	}
	for _, c := range h.snapshot() {
		select {
		case c.send <- data:
		default:
		}
	}
}

// BroadcastSnapshot sends png (binary frame) — the current display window,
// per §6's "push the rendered frame as a PNG to the operator UI" — to every
// connected client.
func (h *Hub) BroadcastSnapshot(png []byte) {
	for _, c := range h.snapshot() {
		select {
		case c.send <- png:
		default:
		}
	}
}

// ServeWS upgrades r into a websocket connection and pumps it until it
// closes. It is meant to be wired to an http.ServeMux under the adapter's
// internal web-control port.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("webcontrol: upgrade error:", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		mt := websocket.TextMessage
		if isBinaryFrame(data) {
			mt = websocket.BinaryMessage
		}
		if err := c.conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	defer c.conn.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd commandType
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Println("webcontrol: malformed message:", err)
			continue
		}

		var raw any
		switch cmd.Type {
		case "settingsChange":
			var msg SettingsChangeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Println("webcontrol: malformed settingsChange:", err)
				continue
			}
			raw = msg
		case "reloadAdvertisements":
			raw = ReloadAdvertisementsMsg{Type: cmd.Type}
		default:
			continue
		}

		h.bus.SendInbound(bus.InboundMessage{
			Source:     bus.FromWebControl,
			WebControl: bus.WebControlEvent{Raw: raw},
		})
	}
}

// isBinaryFrame reports whether data looks like a PNG payload rather than
// JSON, so writePump can choose the matching websocket frame type.
func isBinaryFrame(data []byte) bool {
	pngMagic := []byte{0x89, 'P', 'N', 'G'}
	if len(data) < len(pngMagic) {
		return false
	}
	for i, b := range pngMagic {
		if data[i] != b {
			return false
		}
	}
	return true
}
