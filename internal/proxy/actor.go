// Package proxy implements the two paired connection actors — client-facing
// and server-facing — and the top-level listener that wires them together
// through a session.Coordinator.
package proxy

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockproxy/blockproxy/internal/codec"
	"github.com/blockproxy/blockproxy/internal/protocol"
)

// outboundQueueSize bounds each half's outbound channel. A full queue
// blocks its producer, providing backpressure across the pipeline.
const outboundQueueSize = 256

// flushInterval is the write loop's coalescing period, grounded on the
// source's flush thread (`time.sleep(0.03)` between `self.packet.flush()`
// calls).
const flushInterval = 30 * time.Millisecond

// Dispatcher handles one decoded frame for a half. Returning an error
// closes the connection actor.
type Dispatcher func(frame codec.RawFrame) error

// ConnActor owns one socket, one codec, and one outbound queue, and drives
// a read loop / write loop pair. Client half
// and server half each embed one, supplying their own Dispatcher.
type ConnActor struct {
	Conn *codec.Conn
	log  zerolog.Logger

	queue chan []byte

	stateMu sync.RWMutex
	state   protocol.State

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
	errMu     sync.Mutex
}

// NewConnActor wraps conn with an outbound queue and starts it in the
// Handshake state.
func NewConnActor(conn *codec.Conn, log zerolog.Logger) *ConnActor {
	return &ConnActor{
		Conn:  conn,
		log:   log,
		queue: make(chan []byte, outboundQueueSize),
		state: protocol.StateHandshake,
		done:  make(chan struct{}),
	}
}

// State returns the actor's current protocol phase.
func (a *ConnActor) State() protocol.State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

// SetState transitions the actor to a new phase.
func (a *ConnActor) SetState(s protocol.State) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

// Done returns a channel closed once the actor has shut down.
func (a *ConnActor) Done() <-chan struct{} { return a.done }

// Err returns the error that caused shutdown, if any.
func (a *ConnActor) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.closeErr
}

// Enqueue hands a fully-assembled id+body payload to the write loop.
// Blocks if the queue is full (backpressure); returns false without
// blocking forever once the actor is closed.
func (a *ConnActor) Enqueue(payload []byte) bool {
	select {
	case a.queue <- payload:
		return true
	case <-a.done:
		return false
	}
}

// Close marks the actor Closed and stops its loops. Idempotent: a second
// close is a no-op.
func (a *ConnActor) Close(cause error) {
	a.closeOnce.Do(func() {
		a.SetState(protocol.StateClosed)
		a.errMu.Lock()
		a.closeErr = cause
		a.errMu.Unlock()
		close(a.done)
		_ = a.Conn.Close()
	})
}

// RunReadLoop blocks on Conn.ReadFrame, handing each frame to dispatch,
// until the socket errors, dispatch reports a fatal error, or the actor is
// otherwise closed. It never returns until the actor is done.
func (a *ConnActor) RunReadLoop(dispatch Dispatcher) {
	for {
		if a.State() == protocol.StateClosed {
			return
		}
		frame, err := a.Conn.ReadFrame()
		if err != nil {
			a.Close(err)
			return
		}
		if err := dispatch(frame); err != nil {
			a.Close(err)
			return
		}
	}
}

// RunWriteLoop pops payloads off the outbound queue and writes them,
// flushing at most every flushInterval or whenever the queue drains,
// whichever is sooner, to coalesce small packets.
func (a *ConnActor) RunWriteLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case payload, ok := <-a.queue:
			if !ok {
				return
			}
			if err := a.Conn.WriteRaw(payload); err != nil {
				a.Close(err)
				return
			}
			a.drainThenFlush()
		case <-ticker.C:
			if err := a.Conn.Flush(); err != nil {
				a.Close(err)
				return
			}
		}
	}
}

// drainThenFlush writes any further payloads already queued without
// blocking, then flushes once the queue is empty.
func (a *ConnActor) drainThenFlush() {
	for {
		select {
		case payload, ok := <-a.queue:
			if !ok {
				return
			}
			if err := a.Conn.WriteRaw(payload); err != nil {
				a.Close(err)
				return
			}
		default:
			if err := a.Conn.Flush(); err != nil {
				a.Close(err)
			}
			return
		}
	}
}
