// Package bus implements the typed wire bus connecting the server's five
// asynchronous peers: a single bounded inbound queue and four broadcast
// outbound queues. The broadcaster is a drop-oldest variant of the
// slow-subscriber fan-out the teacher's server/dvr package uses for MPEG-TS
// chunks: a full subscriber loses its oldest value and stays subscribed.
package bus

import (
	"log"
	"sync"
	"time"

	"github.com/trackwall/dwa/internal/camera"
)

// inboundCapacity is the bounded MPSC queue depth named in §4.3.
const inboundCapacity = 100

// InboundSource tags which peer produced an InboundMessage.
type InboundSource int

const (
	FromTimingProgram InboundSource = iota
	FromCameraProgram
	FromWebControl
	FromClient
	FromWindServer
)

// InboundMessage is the tagged sum type carried on the single inbound MPSC
// queue. Exactly one payload field is meaningful per Source.
type InboundMessage struct {
	Source InboundSource

	TimingEvent TimingProgramEvent
	CameraEvent camera.HeatEvent
	SerialEvent camera.SerialEvent
	WebControl  WebControlEvent
	ClientEvent ClientEvent
	WindEvent   WindEvent
}

// TimingProgramEvent is a placeholder carrier for timingcodec.Event so bus
// stays independent of the codec package's internal event shapes; the
// server state machine (C4) narrows Raw to a concrete type via a type
// switch the way the codec documents.
type TimingProgramEvent struct {
	Raw any
}

// ClientEvent carries a decoded protocol.ClientMessage (kept as `any` here
// for the same reason as TimingProgramEvent — bus must not import protocol
// to avoid a cycle with peers, which imports both).
type ClientEvent struct {
	Raw any
}

// WebControlEvent carries a decoded web-control JSON command.
type WebControlEvent struct {
	Raw any
}

// WindEvent carries a decoded wind-server JSON frame.
type WindEvent struct {
	Raw any
}

// Bus holds one server instance's full set of inbound/outbound channels.
// The display-client process constructs its own private Bus (one inbound,
// one outbound broadcaster) per §2.
type Bus struct {
	Inbound chan InboundMessage

	ToTimingProgram *Broadcaster[any]
	ToClient        *Broadcaster[any]
	ToWebControl    *Broadcaster[any]
	ToWindServer    *Broadcaster[any]
}

// New constructs a Bus with the capacities named in §4.3.
func New() *Bus {
	return &Bus{
		Inbound:         make(chan InboundMessage, inboundCapacity),
		ToTimingProgram: NewBroadcaster[any](),
		ToClient:        NewBroadcaster[any](),
		ToWebControl:    NewBroadcaster[any](),
		ToWindServer:    NewBroadcaster[any](),
	}
}

// SendInbound pushes msg onto the inbound queue. Per §4.3/§7, Full drops
// the message with a trace log rather than blocking the producer; Closed
// (queue never closes in practice — the server exits instead) would be
// fatal, but since nothing closes Inbound during normal operation this
// path only guards against a future caller introducing a close.
func (b *Bus) SendInbound(msg InboundMessage) {
	select {
	case b.Inbound <- msg:
	default:
		log.Printf("bus: inbound full, dropping message from source %d", msg.Source)
	}
}

// subscriberCapacity is the per-subscriber broadcast channel depth.
const subscriberCapacity = 32

// Broadcaster fans out values of type T to all current subscribers. Sends
// never block the publisher: a subscriber whose channel is full has its
// oldest buffered value dropped to make room, so subscribers observe a
// monotonic suffix of what was published (per §5's ordering guarantees)
// rather than being disconnected outright the way dvr.broadcaster drops
// slow MPEG-TS viewers — outbound control messages are too important to
// simply abandon a subscriber over one slow tick.
type Broadcaster[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[chan T]struct{})}
}

// Subscribe registers a new subscriber and returns its receive channel.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, subscriberCapacity)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from the subscriber set.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Publish fans value out to every current subscriber, dropping the oldest
// buffered value for any subscriber whose channel is full.
func (b *Broadcaster[T]) Publish(value T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- value:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
				log.Println("bus: broadcast subscriber still full after drop, skipping tick")
			}
		}
	}
}

// WaitWithTimeout receives from ch, returning ok=false if no value arrives
// within d — the "wait for data with configurable timeout" primitive named
// in §4.3, used so loops can check the shutdown flag at least every
// wait_ms_before_testing_for_shutdown.
func WaitWithTimeout[T any](ch <-chan T, d time.Duration) (T, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-t.C:
		var zero T
		return zero, false
	}
}
