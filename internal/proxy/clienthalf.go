package proxy

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blockproxy/blockproxy/internal/codec"
	"github.com/blockproxy/blockproxy/internal/config"
	"github.com/blockproxy/blockproxy/internal/eventbus"
	"github.com/blockproxy/blockproxy/internal/identity"
	"github.com/blockproxy/blockproxy/internal/netlog"
	"github.com/blockproxy/blockproxy/internal/protocol"
	"github.com/blockproxy/blockproxy/internal/session"
	"github.com/blockproxy/blockproxy/internal/sessionservice"
)

// OnLoginFunc is invoked once the client half finishes login and
// transitions to Play; the proxy's top-level listener supplies this to
// open the matching ServerHalf. Split out as a callback so this package
// does not need to import its own listener.
type OnLoginFunc func(ctx context.Context, ch *ClientHalf) (*ServerHalf, error)

// ClientHalf is the external-facing connection actor. It
// impersonates an online-mode server to the real player, then — once
// authenticated — hands off to a ServerHalf dialed by the caller.
type ClientHalf struct {
	*ConnActor

	cfg    *config.Proxy
	coord  *session.Coordinator
	bus    *eventbus.Bus
	svc    *sessionservice.Client
	onJoin OnLoginFunc

	sess   *session.Session
	server *ServerHalf

	log zerolog.Logger

	verifyToken []byte
	rsaKey      *rsa.PrivateKey

	teardownOnce sync.Once
}

// NewClientHalf wraps conn with the client-facing actor. HandleLogin must
// be called before Run.
func NewClientHalf(conn *codec.Conn, cfg *config.Proxy, coord *session.Coordinator, bus *eventbus.Bus, svc *sessionservice.Client, onJoin OnLoginFunc) *ClientHalf {
	log := netlog.For("clienthalf")
	return &ClientHalf{
		ConnActor: NewConnActor(conn, log),
		cfg:       cfg,
		coord:     coord,
		bus:       bus,
		svc:       svc,
		onJoin:    onJoin,
		log:       log,
	}
}

// HandleLogin drives an incoming connection through the Handshake ->
// Status|Login -> Play path. On success the session is in Play state,
// registered with the coordinator, and the caller's OnLoginFunc has been
// invoked to open the backend half.
func (h *ClientHalf) HandleLogin(ctx context.Context) error {
	frame, err := h.Conn.ReadFrame()
	if err != nil {
		return err
	}
	r := codec.NewReader(frame.Body())
	version := protocol.Version(r.VarInt())
	_ = r.String() // server address the client dialed
	_ = r.UShort()
	nextState := r.VarInt()
	if err := r.Err(); err != nil {
		return err
	}

	switch nextState {
	case 1:
		return h.handleStatus(version)
	case 2:
		return h.handleLoginFlow(ctx, version)
	default:
		return fmt.Errorf("proxy: unexpected next-state %d in handshake", nextState)
	}
}

func (h *ClientHalf) handleStatus(version protocol.Version) error {
	h.SetState(protocol.StateStatus)
	cb, sb := protocol.Select(version)

	for {
		frame, err := h.Conn.ReadFrame()
		if err != nil {
			return err
		}
		name := sb.Status.NameOf(frame.ID)
		switch name {
		case protocol.NameStatusRequest:
			body := fmt.Sprintf(`{"version":{"name":"blockproxy","protocol":%d},"players":{"max":%d,"online":0},"description":{"text":"blockproxy"}}`,
				version, h.cfg.MaxPlayers)
			w := codec.NewWriter().String(body)
			if err := h.Conn.WriteFrame(cb.Status.ID(protocol.NameStatusResponse), w.Bytes()); err != nil {
				return err
			}
			if err := h.Conn.Flush(); err != nil {
				return err
			}
		case protocol.NameStatusPing:
			r := codec.NewReader(frame.Body())
			payload := r.Long()
			if err := r.Err(); err != nil {
				return err
			}
			w := codec.NewWriter().Long(payload)
			if err := h.Conn.WriteFrame(cb.Status.ID(protocol.NameStatusPong), w.Bytes()); err != nil {
				return err
			}
			if err := h.Conn.Flush(); err != nil {
				return err
			}
			return nil
		}
	}
}

func (h *ClientHalf) handleLoginFlow(ctx context.Context, version protocol.Version) error {
	h.SetState(protocol.StateLogin)
	cb, _ := protocol.Select(version)

	frame, err := h.Conn.ReadFrame()
	if err != nil {
		return err
	}
	r := codec.NewReader(frame.Body())
	username := r.String()
	if err := r.Err(); err != nil {
		return err
	}

	authUUID := identity.OfflineUUID(username)
	var properties []sessionservice.Property

	if h.cfg.OnlineMode {
		var err error
		authUUID, properties, err = h.performEncryption(username, cb)
		if err != nil {
			h.sendLoginDisconnect(cb, err.Error())
			return err
		}
	}

	offlineUUID := identity.OfflineUUID(username)
	h.sess = session.New(authUUID.String(), version, username, authUUID, offlineUUID)
	h.sess.Inventory = make(map[int16]session.Slot)
	_ = properties // carried on the session's profile in a fuller build; unused by the core packet rewriting paths
	h.log = netlog.WithSession("clienthalf", h.sess.ID)
	h.log.Info().Str("username", username).Int32("version", int32(version)).Msg("player authenticated")

	h.coord.Register(h.sess, h)

	if h.cfg.CompressionThreshold >= 0 {
		w := codec.NewWriter().VarInt(int32(h.cfg.CompressionThreshold))
		if err := h.Conn.WriteFrame(cb.Login.ID(protocol.NameSetCompression), w.Bytes()); err != nil {
			return err
		}
		if err := h.Conn.Flush(); err != nil {
			return err
		}
		h.Conn.SetCompressionThreshold(int32(h.cfg.CompressionThreshold))
		h.sess.CompressionThreshold = h.cfg.CompressionThreshold
	}

	success := codec.NewWriter().String(identity.StripDashes(authUUID)).String(username)
	if err := h.Conn.WriteFrame(cb.Login.ID(protocol.NameLoginSuccess), success.Bytes()); err != nil {
		return err
	}
	if err := h.Conn.Flush(); err != nil {
		return err
	}

	h.SetState(protocol.StatePlay)
	h.sess.SetState(protocol.StatePlay)
	h.bus.Emit(ctx, EventPlayerLogin, playerPayload(h.playerRef()))

	server, err := h.onJoin(ctx, h)
	if err != nil {
		h.sendLoginDisconnect(cb, "could not reach backend server")
		return err
	}
	h.server = server
	h.bus.Emit(ctx, EventPlayerJoin, playerPayload(h.playerRef()))
	return nil
}

func (h *ClientHalf) performEncryption(username string, cb protocol.Tables) (authUUID uuid.UUID, properties []sessionservice.Property, err error) {
	priv, pubDER, err := generateServerKeyPair(h.cfg.EncryptionKeySize)
	if err != nil {
		return authUUID, nil, err
	}
	token, err := generateVerifyToken()
	if err != nil {
		return authUUID, nil, err
	}
	h.rsaKey = priv
	h.verifyToken = token

	req := codec.NewWriter().
		String(""). // server id, always empty per the session-service protocol
		ByteArray(pubDER).
		ByteArray(token)
	if err := h.Conn.WriteFrame(cb.Login.ID(protocol.NameEncryptionRequest), req.Bytes()); err != nil {
		return authUUID, nil, err
	}
	if err := h.Conn.Flush(); err != nil {
		return authUUID, nil, err
	}

	frame, err := h.Conn.ReadFrame()
	if err != nil {
		return authUUID, nil, err
	}
	r := codec.NewReader(frame.Body())
	encryptedSecret := r.ByteArray()
	encryptedToken := r.ByteArray()
	if err := r.Err(); err != nil {
		return authUUID, nil, err
	}

	sharedSecret, err := decryptRSA(h.rsaKey, encryptedSecret)
	if err != nil {
		return authUUID, nil, err
	}
	returnedToken, err := decryptRSA(h.rsaKey, encryptedToken)
	if err != nil {
		return authUUID, nil, err
	}
	if string(returnedToken) != string(h.verifyToken) {
		return authUUID, nil, fmt.Errorf("proxy: verify token mismatch")
	}

	block, err := newAESCipherBlock(sharedSecret)
	if err != nil {
		return authUUID, nil, err
	}
	h.Conn.EnableEncryption(block, sharedSecret)

	hash := serverIDHash("", sharedSecret, pubDER)
	profile, err := h.svc.HasJoined(context.Background(), username, hash)
	if err != nil {
		return authUUID, nil, err
	}
	return profile.ID, profile.Properties, nil
}

func (h *ClientHalf) sendLoginDisconnect(cb protocol.Tables, reason string) {
	w := codec.NewWriter().Chat(map[string]interface{}{"text": reason})
	_ = h.Conn.WriteFrame(cb.Login.ID(protocol.NameLoginDisconnect), w.Bytes())
	_ = h.Conn.Flush()
}

// Run starts the client half's read/write loops and the shutdown watcher
// that tears down the rest of the session once this half dies for any
// reason (EOF, socket error, protocol error). Call once login has
// completed and the server half has been opened.
func (h *ClientHalf) Run() {
	go h.RunWriteLoop()
	go h.RunReadLoop(h.dispatch)
	go func() {
		<-h.Done()
		h.teardown()
	}()
}

// teardown detaches the server half, removes the session from the roster,
// and publishes the logout events. Safe to call from either half's
// shutdown path; only the first call does anything.
func (h *ClientHalf) teardown() {
	h.teardownOnce.Do(func() {
		if h.server != nil {
			h.server.Disconnect("client disconnected")
		}
		if h.sess != nil && h.server != nil {
			ctx := context.Background()
			ref := h.playerRef()
			h.bus.Emit(ctx, EventPlayerLogout, playerPayload(ref))
			h.bus.Emit(ctx, EventPlayerLeave, playerPayload(ref))
		}
		if h.sess != nil && h.coord != nil {
			h.coord.OnClose(h.sess)
		}
	})
}

func (h *ClientHalf) playerRef() PlayerRef {
	return PlayerRef{Username: h.sess.Username, AuthenticatedUUID: h.sess.AuthenticatedUUID.String()}
}

func (h *ClientHalf) dispatch(frame codec.RawFrame) error {
	_, sb := protocol.Select(h.sess.Version)
	name := sb.Play.NameOf(frame.ID)
	ctx := context.Background()

	switch name {
	case protocol.NameKeepAlive:
		// A keep-alive arriving from the external client is absorbed: not
		// published, not forwarded. The backend gets its keep-alive replies
		// from the server half instead.
		return nil
	case protocol.NameChatMessage:
		return h.handleChatMessage(ctx, frame)
	case protocol.NamePlayerPosLook, protocol.NamePlayerPosition:
		return h.handlePlayerMove(ctx, frame)
	default:
		if h.server != nil {
			h.server.Enqueue(frame.Payload)
		}
		h.sess.History.Push(recordFor("client->server", frame.ID, len(frame.Payload)))
		return nil
	}
}

func (h *ClientHalf) handleChatMessage(ctx context.Context, frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	message := r.String()
	if err := r.Err(); err != nil {
		return err
	}

	payload := map[string]interface{}{"text": message}
	decision := h.bus.Emit(ctx, EventPlayerChatbox, chatboxPayload(h.playerRef(), payload))

	if strings.HasPrefix(message, "/") {
		parts := strings.Fields(message)
		cmd := strings.TrimPrefix(parts[0], "/")
		args := parts[1:]
		h.bus.Emit(ctx, EventPlayerRunCommand, runCommandPayload(h.playerRef(), cmd, args))
	}

	switch decision.Kind {
	case eventbus.Drop:
		return nil
	case eventbus.Replace:
		text, _ := decision.Payload["text"].(string)
		_, sb := protocol.Select(h.sess.Version)
		w := codec.NewWriter().String(text)
		out := encodeWithID(sb.Play.ID(protocol.NameChatMessage), w)
		if h.server != nil {
			h.server.Enqueue(out)
		}
		return nil
	default:
		if h.server != nil {
			h.server.Enqueue(frame.Payload)
		}
		return nil
	}
}

func (h *ClientHalf) handlePlayerMove(ctx context.Context, frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	x := r.Double()
	y := r.Double()
	z := r.Double()
	if err := r.Err(); err != nil {
		return err
	}

	h.sess.SetPosition(session.Position{X: x, Y: y, Z: z})
	h.bus.Emit(ctx, EventPlayerMove, playerPayload(h.playerRef()))

	if h.server != nil {
		h.server.Enqueue(frame.Payload)
	}
	return nil
}

// RebindTo implements session.Rebinder: closes the current server half and
// opens a fresh one to backend without dropping the player's connection.
func (h *ClientHalf) RebindTo(backend session.Backend) error {
	if h.server != nil {
		h.server.Disconnect("rebinding to another server")
	}

	cb, _ := protocol.Select(h.sess.Version)
	gameState := codec.NewWriter().UByte(1).Float(0)
	h.Enqueue(encodeWithID(cb.Play.ID(protocol.NameChangeGameState), gameState))

	chat := codec.NewWriter().
		Chat(map[string]interface{}{"text": "Reconnecting to " + backend.Name, "color": "red"}).
		Byte(0) // chat position: player chat area
	h.Enqueue(encodeWithID(cb.Play.ID(protocol.NameChatMessage), chat))

	server, err := DialServerHalf(context.Background(), backend.Addr, h.sess, h.coord, h.bus, h, h.cfg.IdleTimeout)
	if err != nil {
		return err
	}
	h.server = server
	server.Run()
	return nil
}

// Disconnect implements session.Half: closes the client half, sending a
// disconnect packet appropriate to its current phase.
func (h *ClientHalf) Disconnect(reason string) {
	cb, _ := protocol.Select(h.sess.Version)
	w := codec.NewWriter().Chat(map[string]interface{}{"text": reason, "color": "red"})

	switch h.State() {
	case protocol.StateLogin:
		_ = h.Conn.WriteFrame(cb.Login.ID(protocol.NameLoginDisconnect), w.Bytes())
	case protocol.StatePlay:
		_ = h.Conn.WriteFrame(cb.Play.ID(protocol.NamePlayDisconnect), w.Bytes())
	}
	_ = h.Conn.Flush()

	h.Close(fmt.Errorf("proxy: %s", reason))
	h.teardown()
}
