package webcontrol

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trackwall/dwa/internal/bus"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()
	b := bus.New()
	h := NewHub(b)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return h, srv, wsURL
}

func TestBroadcastStatusReachesConnectedClient(t *testing.T) {
	h, srv, wsURL := newTestHub(t)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the server a moment to register the client.
	time.Sleep(50 * time.Millisecond)
	h.BroadcastStatus(StatusMsg{Type: "status", Mode: "PassthroughClient"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "PassthroughClient") {
		t.Errorf("got %s", data)
	}
}

func TestSettingsChangeForwardedToBus(t *testing.T) {
	h, srv, wsURL := newTestHub(t)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	msg := `{"type":"settingsChange","key":"fireworksOnFinish","value":true}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-h.bus.Inbound:
		if got.Source != bus.FromWebControl {
			t.Errorf("source = %v, want FromWebControl", got.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound settings change")
	}
}

func TestReloadAdvertisementsForwardedToBus(t *testing.T) {
	h, srv, wsURL := newTestHub(t)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	msg := `{"type":"reloadAdvertisements"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-h.bus.Inbound:
		if got.Source != bus.FromWebControl {
			t.Errorf("source = %v, want FromWebControl", got.Source)
		}
		if _, ok := got.WebControl.Raw.(ReloadAdvertisementsMsg); !ok {
			t.Errorf("raw = %T, want ReloadAdvertisementsMsg", got.WebControl.Raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound reload command")
	}
}

func TestIsBinaryFrameDetectsPNGMagic(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}
	if !isBinaryFrame(png) {
		t.Error("expected PNG magic to be detected as binary")
	}
	if isBinaryFrame([]byte(`{"type":"status"}`)) {
		t.Error("expected JSON to not be detected as binary")
	}
}
