// Package eventbus implements the single emit(name, payload) -> decision
// call plugins consume: a synchronous dispatch whose outcome is either
// drop, a replacement payload, or pass-through — modelled here as an
// explicit Decision sum type.
package eventbus

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/blockproxy/blockproxy/internal/netlog"
)

// Kind distinguishes the three outcomes a handler may return.
type Kind int

const (
	// PassThrough forwards the original packet unchanged.
	PassThrough Kind = iota
	// Drop silently discards the packet.
	Drop
	// Replace substitutes Decision.Payload for the original packet fields.
	Replace
)

// Decision is what a Handler returns from an Emit call.
type Decision struct {
	Kind    Kind
	Payload map[string]interface{}
}

// Handler receives one event's payload and returns a Decision. Handlers
// must be quick: a slow handler stalls the whole packet stream for that
// connection.
type Handler func(ctx context.Context, payload map[string]interface{}) Decision

// Bus fans one emitted event out to every subscriber for that name and
// folds their decisions into one: the first non-pass-through decision from
// any subscriber wins, modelling a single synchronous dispatch call rather
// than independent subscriber lists, while still letting multiple plugins
// subscribe to the same event.
type Bus struct {
	handlers *xsync.MapOf[string, []Handler]
	timeout  time.Duration
	log      zerolog.Logger
}

// New returns an empty Bus. perEventTimeout bounds how long Emit waits on
// any one handler before demoting it to pass-through, guarding against a
// handler that blocks forever.
func New(perEventTimeout time.Duration) *Bus {
	return &Bus{
		handlers: xsync.NewMapOf[string, []Handler](),
		timeout:  perEventTimeout,
		log:      netlog.For("eventbus"),
	}
}

// Subscribe registers h to run whenever name is emitted.
func (b *Bus) Subscribe(name string, h Handler) {
	b.handlers.Compute(name, func(existing []Handler, _ bool) ([]Handler, bool) {
		return append(existing, h), false
	})
}

// Emit publishes name with payload to every subscriber, returning the first
// non-pass-through Decision. Panics and errors inside a handler are caught
// and logged, then treated as pass-through for that handler only, so one
// misbehaving plugin can't take down the pipeline.
func (b *Bus) Emit(ctx context.Context, name string, payload map[string]interface{}) (decision Decision) {
	handlers, ok := b.handlers.Load(name)
	if !ok || len(handlers) == 0 {
		return Decision{Kind: PassThrough}
	}

	for _, h := range handlers {
		d := b.runOne(ctx, name, h, payload)
		if d.Kind != PassThrough {
			return d
		}
	}
	return Decision{Kind: PassThrough}
}

func (b *Bus) runOne(ctx context.Context, name string, h Handler, payload map[string]interface{}) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn().Str("event", name).Interface("recover", r).Msg("plugin handler panicked; passing through")
			decision = Decision{Kind: PassThrough}
		}
	}()

	if b.timeout <= 0 {
		return h(ctx, payload)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resultCh := make(chan Decision, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Warn().Str("event", name).Interface("recover", r).Msg("plugin handler panicked; passing through")
				resultCh <- Decision{Kind: PassThrough}
			}
		}()
		resultCh <- h(runCtx, payload)
	}()

	select {
	case d := <-resultCh:
		return d
	case <-runCtx.Done():
		b.log.Warn().Str("event", name).Msg("plugin handler timed out; passing through")
		return Decision{Kind: PassThrough}
	}
}
