// server runs the display-wall adapter's server process: it accepts the
// timing program's connection, dials the external display program and
// display client, serves the internal web-control UI, and persists camera
// events to the permanent SQLite log.
//
// Usage:
//
//	server [--listen-port <port>] [--webcontrol-port <port>] [--wind-port <port>]
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/trackwall/dwa/internal/bus"
	"github.com/trackwall/dwa/internal/config"
	"github.com/trackwall/dwa/internal/peers"
	"github.com/trackwall/dwa/internal/serverfsm"
	"github.com/trackwall/dwa/internal/storage"
	"github.com/trackwall/dwa/internal/timingcodec"
	"github.com/trackwall/dwa/internal/webcontrol"
)

func main() {
	result, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg := result.Config

	if _, err := config.ParseFlags(cfg, append(os.Args[1:], string(config.ModeServer))); err != nil {
		log.Fatal(err)
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(filepath.Join(cfg.Paths.DatabaseContainer, "dwa.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	b := bus.New()
	machine := serverfsm.New(b, store, cfg.Behavior.PassthroughToDisplayProgram)
	machine.AdsDir = cfg.Paths.AdvertisementContainer
	machine.EncodeTimingResponse = timingcodec.EncodeResponse
	go machine.Run()

	go func() {
		if err := peers.ListenTimingProgram(ctx, cfg.Ports.Listen, b); err != nil {
			log.Println("server: timing listener exited:", err)
		}
	}()

	displayAddr := addr(cfg.AddressDisplayClient, cfg.Ports.DisplayClient)
	go peers.DialDisplayClient(ctx, displayAddr, b)

	if cfg.PassthroughAddress != "" {
		passthroughAddr := addr(cfg.PassthroughAddress, cfg.Ports.PassthroughDisplay)
		go peers.DialExternalDisplay(ctx, passthroughAddr, b)
	}

	go peers.DialCamera(ctx, addr(cfg.CameraAddress, cfg.Ports.CameraSerial), peers.CameraStreamSerial, b)
	go peers.DialCamera(ctx, addr(cfg.CameraAddress, cfg.Ports.CameraData), peers.CameraStreamXML, b)
	go peers.DialCamera(ctx, addr(cfg.CameraAddress, cfg.Ports.CameraXML), peers.CameraStreamXML, b)

	go peers.DialWind(ctx, addr(cfg.WindAddress, cfg.Ports.WindExchange), cfg.ClientEmitInterval(), b)

	hub := webcontrol.NewHub(b)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", hub.ServeWS)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	srv := &http.Server{Addr: addr("0.0.0.0", cfg.Ports.InternalWebControl), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Println("server: web-control server exited:", err)
		}
	}()

	<-ctx.Done()
	log.Println("server: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.WaitBeforeShutdownCheck())
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func addr(host string, port int) string {
	return host + ":" + itoa(port)
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
