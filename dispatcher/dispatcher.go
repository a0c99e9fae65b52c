// Package dispatcher owns the sole read position of an endpoint's socket
// and demultiplexes incoming frames into a request stream and a
// correlation-id-keyed response map, the way the teacher's
// transport.ClientTransport.recvLoop routes responses through its pending
// sync.Map — generalized here to also carry inbound REQUEST frames, since a
// GPCP connection reads in both directions on one socket.
package dispatcher

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"gpcp/frame"
	"gpcp/gpcperr"
)

// pollInterval is the per-iteration read deadline the receive loop uses to
// cooperatively observe the stop flag, matching the ~100ms default called
// out for dispatcher polling.
const pollInterval = 100 * time.Millisecond

// Dispatcher reads frames from conn in a dedicated goroutine and routes
// them: REQUEST bodies go to Requests(), RESPONSE bodies are delivered to
// whichever caller is awaiting their correlation id.
type Dispatcher struct {
	conn net.Conn

	requests chan []byte
	pending  sync.Map // map[uint32]chan []byte

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New creates a Dispatcher for conn. Start must be called to begin reading.
func New(conn net.Conn) *Dispatcher {
	return &Dispatcher{
		conn:     conn,
		requests: make(chan []byte, 16),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Requests returns the channel of inbound REQUEST frame bodies. It is
// closed once the dispatcher stops, after which a range loop over it
// terminates naturally — the Go idiom standing in for the source's
// sentinel-nil-on-the-queue shutdown signal.
func (d *Dispatcher) Requests() <-chan []byte {
	return d.requests
}

// Await registers interest in the RESPONSE frame carrying correlationID and
// returns a channel that receives its raw body exactly once. The channel is
// closed without a value if the dispatcher stops before a matching response
// arrives.
func (d *Dispatcher) Await(correlationID uint32) <-chan []byte {
	ch := make(chan []byte, 1)
	d.pending.Store(correlationID, ch)
	select {
	case <-d.stopped:
		if _, loaded := d.pending.LoadAndDelete(correlationID); loaded {
			close(ch)
		}
	default:
	}
	return ch
}

// Start begins the receive loop in its own goroutine.
func (d *Dispatcher) Start() {
	go d.loop()
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.stopped:
			return
		default:
		}

		d.conn.SetReadDeadline(time.Now().Add(pollInterval))
		body, packetType, err := frame.ReceiveFrame(d.conn)
		if err != nil {
			if errors.Is(err, gpcperr.Sentinel(gpcperr.Timeout)) {
				continue
			}
			if errors.Is(err, gpcperr.Sentinel(gpcperr.PeerClosed)) {
				d.Stop()
				return
			}
			log.Printf("dispatcher: receive error: %v", err)
			d.Stop()
			return
		}

		switch packetType {
		case frame.KeepAlive:
			continue
		case frame.Request:
			select {
			case d.requests <- body:
			case <-d.stopped:
				return
			}
		case frame.Response:
			d.routeResponse(body)
		default:
			log.Printf("dispatcher: discarding frame of type %d", packetType)
		}
	}
}

func (d *Dispatcher) routeResponse(body []byte) {
	if len(body) < 4 {
		log.Printf("dispatcher: response body too short to carry a correlation id")
		return
	}
	correlationID := frame.BinaryDecodeUint32(body[:4])
	if ch, ok := d.pending.LoadAndDelete(correlationID); ok {
		ch.(chan []byte) <- body
	}
}

// Stop sets the stop flag, wakes every waiter on the request stream and on
// every pending response channel, and lets the receive loop exit after its
// current iteration. Safe to call more than once and from any goroutine.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		close(d.requests)
		d.pending.Range(func(key, value any) bool {
			close(value.(chan []byte))
			d.pending.Delete(key)
			return true
		})
	})
}

// Wait blocks until the receive loop goroutine has exited.
func (d *Dispatcher) Wait() {
	<-d.done
}
