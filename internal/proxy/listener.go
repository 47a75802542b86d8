package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/blockproxy/blockproxy/internal/codec"
	"github.com/blockproxy/blockproxy/internal/config"
	"github.com/blockproxy/blockproxy/internal/eventbus"
	"github.com/blockproxy/blockproxy/internal/netlog"
	"github.com/blockproxy/blockproxy/internal/session"
	"github.com/blockproxy/blockproxy/internal/sessionservice"
)

// Proxy is the top-level listener: it accepts external client connections,
// drives each one through ClientHalf.HandleLogin, and on success dials the
// configured local backend to open the matching ServerHalf.
type Proxy struct {
	cfg   *config.Proxy
	coord *session.Coordinator
	bus   *eventbus.Bus
	svc   *sessionservice.Client
	log   zerolog.Logger
}

// New constructs a Proxy ready to Listen. bus and svc are supplied by the
// caller (cmd/blockproxy) so plugins can subscribe before any connection
// arrives.
func New(cfg *config.Proxy, bus *eventbus.Bus, svc *sessionservice.Client) *Proxy {
	return &Proxy{
		cfg:   cfg,
		coord: session.NewCoordinator(cfg.CrossServerEnabled),
		bus:   bus,
		svc:   svc,
		log:   netlog.For("proxy"),
	}
}

// Coordinator exposes the session roster, e.g. for an admin surface outside
// this package's scope.
func (p *Proxy) Coordinator() *session.Coordinator { return p.coord }

// Listen accepts connections on cfg.Bind until ctx is cancelled or the
// listener errors.
func (p *Proxy) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.Bind)
	if err != nil {
		return fmt.Errorf("proxy: binding %s: %w", p.cfg.Bind, err)
	}
	defer ln.Close()

	p.log.Info().Str("bind", p.cfg.Bind).Msg("listening for connections")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		rawConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go p.handleConn(ctx, rawConn)
	}
}

func (p *Proxy) handleConn(ctx context.Context, rawConn net.Conn) {
	conn := codec.NewConn(rawConn)
	half := NewClientHalf(conn, p.cfg, p.coord, p.bus, p.svc, p.dialBackend)

	if err := half.HandleLogin(ctx); err != nil {
		p.log.Warn().Err(err).Msg("client half login failed")
		if half.sess != nil {
			p.coord.OnClose(half.sess)
		}
		_ = conn.Close()
		return
	}

	if half.server == nil {
		// status exchange only, nothing to bridge
		_ = conn.Close()
		return
	}

	half.Run()
	half.server.Run()
}

// dialBackend is the ClientHalf's OnLoginFunc: it opens the single
// configured local backend. Cross-server rebinds go through
// session.Coordinator.Rebind / ClientHalf.RebindTo instead.
func (p *Proxy) dialBackend(ctx context.Context, ch *ClientHalf) (*ServerHalf, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", p.cfg.ServerPort)
	return DialServerHalf(ctx, addr, ch.sess, p.coord, p.bus, ch, p.cfg.IdleTimeout)
}
