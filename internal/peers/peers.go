// Package peers implements the per-peer connection loops (C5): a shared
// dial/retry-with-backoff template, and the concrete connectors (timing
// listener, external-display forwarder, display-client dialer, three camera
// dialers, wind-server dialer) that feed and drain a server's bus.Bus.
package peers

import (
	"bufio"
	"context"
	"log"
	"net"
	"time"

	"github.com/trackwall/dwa/internal/bus"
	"github.com/trackwall/dwa/internal/camera"
	"github.com/trackwall/dwa/internal/protocol"
	"github.com/trackwall/dwa/internal/racetime"
	"github.com/trackwall/dwa/internal/timingcodec"
	"github.com/trackwall/dwa/internal/wind"
)

// retryBackoff is the fixed reconnect delay named in §4.5 ("a 1 s
// backoff, to avoid tight loops").
const retryBackoff = time.Second

// dialWithRetry dials address, retrying every retryBackoff until it
// succeeds or ctx is canceled.
func dialWithRetry(ctx context.Context, network, address string) (net.Conn, error) {
	for {
		conn, err := net.Dial(network, address)
		if err == nil {
			return conn, nil
		}
		log.Printf("peers: dial %s failed: %v, retrying in %s", address, err, retryBackoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}

// ListenTimingProgram accepts timing-program connections on port, feeding
// decoded events into b.Inbound and writing what is published on
// b.ToTimingProgram back to the socket: []byte values as they are, and
// timingcodec.Response values encoded with timingcodec.EncodeResponse.
// Unknown records are logged as a timingcodec.DebugDump hex dump. The
// []byte values include the raw stream DialExternalDisplay relays from the
// external display application; that stream is written whatever the
// server's passthrough mode is, since this connector does not consult the
// mode.
func ListenTimingProgram(ctx context.Context, port int, b *bus.Bus) error {
	ln, err := net.Listen("tcp", addrForPort(port))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("peers: timing listener on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Println("peers: timing listener accept error:", err)
				continue
			}
		}
		go handleTimingConn(ctx, conn, b)
	}
}

func handleTimingConn(ctx context.Context, conn net.Conn, b *bus.Bus) {
	defer conn.Close()
	sub := b.ToTimingProgram.Subscribe()
	defer b.ToTimingProgram.Unsubscribe(sub)

	go func() {
		for {
			v, ok := bus.WaitWithTimeout(sub, time.Second)
			if !ok {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			var frame []byte
			switch x := v.(type) {
			case []byte:
				frame = x
			case timingcodec.Response:
				frame = timingcodec.EncodeResponse(x)
			default:
				continue
			}
			if _, err := conn.Write(frame); err != nil {
				log.Println("peers: timing write error:", err)
				return
			}
		}
	}()

	var dec timingcodec.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Println("peers: timing connection closed:", err)
			return
		}
		for _, r := range dec.Feed(buf[:n]) {
			if r.Kind == timingcodec.ResultRecord {
				b.SendInbound(bus.InboundMessage{
					Source:      bus.FromTimingProgram,
					TimingEvent: bus.TimingProgramEvent{Raw: r.Event},
				})
			} else if r.Kind == timingcodec.ResultUnknown {
				log.Printf("peers: unknown timing record:\n%s", timingcodec.DebugDump(r.UnknownBytes))
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// DialExternalDisplay dials the legacy external-display application,
// parsing its replies for ServerInfo/SendFrame records (surfaced as
// synthesized FromTimingProgram inbound events per §4.4) while forwarding
// the unaltered byte stream back onto the timing listener's write path via
// b.ToTimingProgram — the "byte forwarder operates at packet granularity"
// design note in §9.
func DialExternalDisplay(ctx context.Context, address string, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := dialWithRetry(ctx, "tcp", address)
		if err != nil {
			return
		}
		runExternalDisplay(ctx, conn, b)
		conn.Close()
	}
}

func runExternalDisplay(ctx context.Context, conn net.Conn, b *bus.Bus) {
	var dec timingcodec.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Println("peers: external-display connection closed:", err)
			return
		}
		chunk := buf[:n]
		b.ToTimingProgram.Publish(append([]byte(nil), chunk...))

		for _, r := range dec.Feed(chunk) {
			if r.Kind == timingcodec.ResultRecord &&
				(r.Event.Kind == timingcodec.EventServerInfo || r.Event.Kind == timingcodec.EventSendFrame) {
				b.SendInbound(bus.InboundMessage{
					Source:      bus.FromTimingProgram,
					TimingEvent: bus.TimingProgramEvent{Raw: r.Event},
				})
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// DialDisplayClient dials the display client's typed-envelope link,
// decoding ClientMessage frames into b.Inbound and encoding ServerMessage
// values taken from b.ToClient back out.
func DialDisplayClient(ctx context.Context, address string, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := dialWithRetry(ctx, "tcp", address)
		if err != nil {
			return
		}
		runDisplayClient(ctx, conn, b)
		conn.Close()
	}
}

func runDisplayClient(ctx context.Context, conn net.Conn, b *bus.Bus) {
	sub := b.ToClient.Subscribe()
	defer b.ToClient.Unsubscribe(sub)

	if err := protocol.WriteServerMessage(conn, protocol.ServerMessage{Tag: protocol.TagRequestVersion}); err != nil {
		log.Println("peers: display-client version request failed:", err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			v, ok := bus.WaitWithTimeout(sub, time.Second)
			if !ok {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			sm, ok := v.(protocol.ServerMessage)
			if !ok {
				continue
			}
			if err := protocol.WriteServerMessage(conn, sm); err != nil {
				log.Println("peers: display-client write error:", err)
				return
			}
		}
	}()

	r := bufio.NewReader(conn)
	for {
		cm, err := protocol.ReadClientMessage(r)
		if err != nil {
			log.Println("peers: display-client connection closed:", err)
			<-done
			return
		}
		b.SendInbound(bus.InboundMessage{Source: bus.FromClient, ClientEvent: bus.ClientEvent{Raw: cm}})
	}
}

// CameraStream selects which of the two camera-program parsers a dialer
// uses, per §4.5's "timing uses the serial parser; data and xml use the
// XML parser".
type CameraStream int

const (
	CameraStreamSerial CameraStream = iota
	CameraStreamXML
)

// DialCamera dials one of the camera program's three sockets, parsing its
// record stream with the parser selected by stream and feeding events to
// b.Inbound as FromCameraProgram.
func DialCamera(ctx context.Context, address string, stream CameraStream, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := dialWithRetry(ctx, "tcp", address)
		if err != nil {
			return
		}
		runCamera(ctx, conn, stream, b)
		conn.Close()
	}
}

func runCamera(ctx context.Context, conn net.Conn, stream CameraStream, b *bus.Bus) {
	switch stream {
	case CameraStreamSerial:
		scanner := camera.NewSerialScanner(conn)
		for {
			ev, err := scanner.Next()
			if err != nil {
				log.Println("peers: camera serial connection closed:", err)
				return
			}
			b.SendInbound(bus.InboundMessage{Source: bus.FromCameraProgram, SerialEvent: ev})
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	case CameraStreamXML:
		scanner := camera.NewXMLScanner(conn)
		for {
			ev, err := scanner.Next()
			if err != nil {
				log.Println("peers: camera xml connection closed:", err)
				return
			}
			b.SendInbound(bus.InboundMessage{Source: bus.FromCameraProgram, CameraEvent: ev})
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// DialWind dials the wind-measurement server, periodically pushing a
// SetTime frame to keep its clock synchronized and forwarding its
// Started/Measured replies onto b.Inbound as FromWindServer.
func DialWind(ctx context.Context, address string, setTimeInterval time.Duration, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := dialWithRetry(ctx, "tcp", address)
		if err != nil {
			return
		}
		runWind(ctx, conn, setTimeInterval, b)
		conn.Close()
	}
}

func runWind(ctx context.Context, conn net.Conn, setTimeInterval time.Duration, b *bus.Bus) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(setTimeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame, err := wind.EncodeSetTime(racetime.Now())
				if err != nil {
					continue
				}
				if _, err := conn.Write(frame); err != nil {
					return
				}
			}
		}
	}()

	scanner := wind.NewScanner(conn)
	for {
		msg, err := scanner.Next()
		if err != nil {
			log.Println("peers: wind connection closed:", err)
			<-done
			return
		}
		b.SendInbound(bus.InboundMessage{Source: bus.FromWindServer, WindEvent: bus.WindEvent{Raw: msg}})
	}
}

func addrForPort(port int) string {
	return net.JoinHostPort("0.0.0.0", itoa(port))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits [8]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}
