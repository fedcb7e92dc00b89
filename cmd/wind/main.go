// wind runs the wind-measurement bridge process: it dials the wind
// measurement device's exchange port, keeps its clock synchronized, and
// logs the readings it relays. It shares the config/bus plumbing with the
// server and client processes but runs as its own binary since the wind
// unit connects over its own link.
//
// Usage:
//
//	wind [--wind-port <port>]
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trackwall/dwa/internal/bus"
	"github.com/trackwall/dwa/internal/config"
	"github.com/trackwall/dwa/internal/peers"
)

func main() {
	result, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg := result.Config

	if _, err := config.ParseFlags(cfg, append(os.Args[1:], string(config.ModeWind))); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b := bus.New()
	go logWindEvents(ctx, b)

	addr := cfg.WindAddress + ":" + itoa(cfg.Ports.WindExchange)
	peers.DialWind(ctx, addr, cfg.ClientEmitInterval(), b)
}

func logWindEvents(ctx context.Context, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Inbound:
			if msg.Source == bus.FromWindServer {
				log.Printf("wind: %+v", msg.WindEvent.Raw)
			}
		}
	}
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
