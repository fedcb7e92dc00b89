// client runs the display-wall adapter's display client process: it dials
// the server's typed-envelope link, drives the client state machine from
// the messages it receives, and renders the current state at 60 Hz.
//
// Usage:
//
//	client [--listen-port <port>] [--webcontrol-port <port>] [--wind-port <port>]
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/trackwall/dwa/internal/bus"
	"github.com/trackwall/dwa/internal/clientfsm"
	"github.com/trackwall/dwa/internal/config"
	"github.com/trackwall/dwa/internal/imagecache"
	"github.com/trackwall/dwa/internal/peers"
	"github.com/trackwall/dwa/internal/renderloop"
)

const clientVersion = "1.0.0"

func main() {
	result, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg := result.Config

	if _, err := config.ParseFlags(cfg, append(os.Args[1:], string(config.ModeClient))); err != nil {
		log.Fatal(err)
	}

	run(cfg)
}

func run(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scaler := imagecache.NewCachedImageScaler()
	if logo, anim, err := imagecache.LoadBuiltin(); err == nil {
		scaler.Register(logo)
		if err := scaler.Precache(anim, cfg.Display.Width, cfg.Display.Height, false); err != nil {
			log.Println("client: precaching builtin animation:", err)
		}
	} else {
		log.Println("client: loading builtin image bundle:", err)
	}

	machine := clientfsm.New(scaler, clientVersion)
	machine.WindowW, machine.WindowH = cfg.Display.Width, cfg.Display.Height
	machine.FireworksOnIntermediate = cfg.Behavior.FireworksOnIntermediate
	machine.FireworksOnFinish = cfg.Behavior.FireworksOnFinish

	coordsPath := filepath.Join(cfg.Paths.MoveContainer, "coords.txt")
	if x, y, ok := readCoords(coordsPath); ok {
		machine.PendingGeometry = &clientfsm.Geometry{X: x, Y: y, W: cfg.Display.Width, H: cfg.Display.Height}
	}
	machine.PersistCoords = func(x, y int) {
		if err := writeCoords(coordsPath, x, y); err != nil {
			log.Println("client: persisting window coordinates:", err)
		}
	}

	b := bus.New()

	loop := renderloop.NewLoop(machine, b)
	loop.AdFramesPerImage = framesFor(cfg.Display.SlideshowDurationMs)
	loop.AdFramesPerTransition = framesFor(cfg.Display.SlideshowTransitionMs)

	sub := b.ToClient.Subscribe()
	defer b.ToClient.Unsubscribe(sub)

	stop := make(chan struct{})
	go loop.Run(stop, sub)

	serverAddr := cfg.AddressDisplayClient + ":" + itoa(cfg.Ports.DisplayClient)
	peers.DialDisplayClient(ctx, serverAddr, b)
	close(stop)
}

// framesFor converts a millisecond duration into a 60 Hz frame count.
func framesFor(ms int) uint64 {
	return uint64(ms) * 60 / 1000
}

// readCoords loads the window position the client last persisted, so the
// window reopens where the operator left it instead of snapping back to the
// configured default position on every restart.
func readCoords(path string) (x, y int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.Atoi(fields[0])
	y, errY := strconv.Atoi(fields[1])
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}

// writeCoords persists the current window position to path, creating its
// parent directory on first run.
func writeCoords(path string, x, y int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d %d", x, y)), 0644)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits [8]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
