package proxy

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockproxy/blockproxy/internal/codec"
	"github.com/blockproxy/blockproxy/internal/eventbus"
	"github.com/blockproxy/blockproxy/internal/netlog"
	"github.com/blockproxy/blockproxy/internal/protocol"
	"github.com/blockproxy/blockproxy/internal/session"
)

// setCompressionSettleDelay bounds the yield after a SetCompression
// arriving during Login, letting the compression flag settle before the
// next frame read without imposing a multi-second login stall.
const setCompressionSettleDelay = 50 * time.Millisecond

// defaultIdleTimeout is the keep-alive watchdog period used when
// proxy.idle-timeout-seconds is unset or non-positive; the keep-alive
// exchange is the liveness protocol.
const defaultIdleTimeout = 30 * time.Second

// ServerHalf is the game-server-facing connection actor.
// It dials the local backend in offline mode, mirrors the peer, and
// rewrites the handful of packets the session coordinator needs to keep
// both endpoints consistent.
type ServerHalf struct {
	*ConnActor

	sess   *session.Session
	coord  *session.Coordinator
	bus    *eventbus.Bus
	client *ClientHalf

	clientBound protocol.Tables // packets the backend sends us
	serverBound protocol.Tables // packets we send the backend

	log zerolog.Logger

	idleTimeout time.Duration
	idleTimer   *time.Timer

	// spawned flips on the first SPAWN_POSITION; read and written only by
	// the read loop.
	spawned bool

	// detached marks an intentional close (rebind, backend disconnect
	// already relayed) so the shutdown watcher does not also disconnect the
	// client with a generic reason.
	detached atomic.Bool
}

// DialServerHalf opens a TCP connection to addr, performs the offline-mode
// handshake/login, and returns a ServerHalf parked in the Play state. The
// caller is responsible for starting its loops via Run. idleTimeout sets
// the keep-alive watchdog period; non-positive values fall back to
// defaultIdleTimeout.
func DialServerHalf(ctx context.Context, addr string, sess *session.Session, coord *session.Coordinator, bus *eventbus.Bus, client *ClientHalf, idleTimeout time.Duration) (*ServerHalf, error) {
	rawConn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dialing backend %s: %w", addr, err)
	}

	conn := codec.NewConn(rawConn)
	log := netlog.WithSession("serverhalf", sess.ID)
	actor := NewConnActor(conn, log)

	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}

	clientBound, serverBound := protocol.Select(sess.Version)
	h := &ServerHalf{
		ConnActor:   actor,
		sess:        sess,
		coord:       coord,
		bus:         bus,
		client:      client,
		clientBound: clientBound,
		serverBound: serverBound,
		log:         log,
		idleTimeout: idleTimeout,
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, "25565"
	}

	if err := h.sendHandshakeAndLogin(host, port); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return h, nil
}

func (h *ServerHalf) sendHandshakeAndLogin(host, port string) error {
	var portNum uint16
	fmt.Sscanf(port, "%d", &portNum)

	hs := codec.NewWriter().
		VarInt(int32(h.sess.Version)).
		String(host).
		UShort(portNum).
		VarInt(2) // next-state = login
	if err := h.Conn.WriteFrame(h.serverBound.Handshake.ID(protocol.NameHandshake), hs.Bytes()); err != nil {
		return err
	}
	if err := h.Conn.Flush(); err != nil {
		return err
	}
	h.SetState(protocol.StateLogin)

	login := codec.NewWriter().String(h.sess.Username)
	if err := h.Conn.WriteFrame(h.serverBound.Login.ID(protocol.NameLoginStart), login.Bytes()); err != nil {
		return err
	}
	if err := h.Conn.Flush(); err != nil {
		return err
	}

	for {
		frame, err := h.Conn.ReadFrame()
		if err != nil {
			return err
		}
		name := h.clientBound.Login.NameOf(frame.ID)
		switch name {
		case protocol.NameSetCompression:
			r := codec.NewReader(frame.Body())
			threshold := r.VarInt()
			if err := r.Err(); err != nil {
				return err
			}
			h.Conn.SetCompressionThreshold(threshold)
			time.Sleep(setCompressionSettleDelay)
		case protocol.NameLoginSuccess:
			h.SetState(protocol.StatePlay)
			h.sess.SetState(protocol.StatePlay)
			return nil
		case protocol.NameLoginDisconnect:
			r := codec.NewReader(frame.Body())
			reason := r.Chat()
			return fmt.Errorf("proxy: backend refused login: %v", reason)
		}
	}
}

// Run starts the server half's read/write loops and the shutdown watcher
// that tears down the client half when the backend connection dies. Call
// once login has completed.
func (h *ServerHalf) Run() {
	h.idleTimer = time.AfterFunc(h.idleTimeout, func() {
		h.log.Warn().Msg("no keep-alive from backend within timeout; closing session")
		h.Close(fmt.Errorf("proxy: backend keep-alive timeout"))
	})
	go h.RunWriteLoop()
	go h.RunReadLoop(h.dispatch)
	go func() {
		<-h.Done()
		h.idleTimer.Stop()
		if !h.detached.Load() {
			h.client.Disconnect("Disconnected from server")
		}
	}()
}

// Disconnect closes the server half, used by the coordinator/client half
// when tearing down the session from the other side. The watcher stays
// quiet: the caller already owns the client-facing teardown.
func (h *ServerHalf) Disconnect(reason string) {
	h.detached.Store(true)
	h.Close(fmt.Errorf("proxy: %s", reason))
}

func (h *ServerHalf) forwardRaw(payload []byte) {
	h.client.Enqueue(payload)
}

func (h *ServerHalf) dispatch(frame codec.RawFrame) error {
	if h.idleTimer != nil {
		// any frame, not just keep-alive, is a reasonable liveness signal;
		// the keep-alive-specific case below also resets it explicitly.
		h.idleTimer.Reset(h.idleTimeout)
	}

	name := h.clientBound.Play.NameOf(frame.ID)
	ctx := context.Background()

	switch name {
	case protocol.NameKeepAlive:
		return h.handleKeepAlive(frame)
	case protocol.NameChatMessage:
		return h.handleChatMessage(ctx, frame)
	case protocol.NameJoinGame:
		return h.handleJoinGame(frame)
	case protocol.NameSpawnPosition:
		return h.handleSpawnPosition(ctx, frame)
	case protocol.NameRespawn:
		return h.handleRespawn(frame)
	case protocol.NamePlayerPosLook:
		return h.handlePlayerPosLook(frame)
	case protocol.NameUseBed:
		return h.handleUseBed(ctx, frame)
	case protocol.NameSpawnPlayer:
		return h.handleSpawnPlayer(frame)
	case protocol.NameSpawnObject:
		return h.handleSpawnObject(frame)
	case protocol.NameSpawnMob:
		return h.handleSpawnMob(frame)
	case protocol.NameEntityRelativeMove:
		return h.handleEntityRelativeMove(frame)
	case protocol.NameEntityTeleport:
		return h.handleEntityTeleport(frame)
	case protocol.NameDestroyEntities:
		return h.handleDestroyEntities(frame)
	case protocol.NameAttachEntity:
		return h.handleAttachEntity(ctx, frame)
	case protocol.NameChangeGameState:
		return h.handleChangeGameState(frame)
	case protocol.NameSetSlot:
		return h.handleSetSlot(frame)
	case protocol.NamePlayerListItem:
		return h.handlePlayerListItem(frame)
	case protocol.NamePlayDisconnect:
		return h.handleDisconnect(frame)
	default:
		h.forwardRaw(frame.Payload)
		h.sess.History.Push(recordFor("server->client", frame.ID, len(frame.Payload)))
		return nil
	}
}

// handleKeepAlive echoes the id straight back to the backend and never
// forwards it to the external client.
func (h *ServerHalf) handleKeepAlive(frame codec.RawFrame) error {
	if h.idleTimer != nil {
		h.idleTimer.Reset(h.idleTimeout)
	}
	w := codec.NewWriter().Raw(frame.Body())
	payload := encodeWithID(h.serverBound.Play.ID(protocol.NameKeepAlive), w)
	return h.enqueueToBackend(payload)
}

func (h *ServerHalf) enqueueToBackend(payload []byte) error {
	if !h.Enqueue(payload) {
		return fmt.Errorf("proxy: server half closed")
	}
	return nil
}

// handleChatMessage publishes the backend's chat line to plugins before it
// reaches the external client; a plugin may drop it or substitute its own
// JSON component, in which case the original is never forwarded.
func (h *ServerHalf) handleChatMessage(ctx context.Context, frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	chatJSON := r.Chat()
	position := r.UByte()
	if err := r.Err(); err != nil {
		return err
	}

	decision := h.bus.Emit(ctx, EventPlayerChatbox, chatboxPayload(h.client.playerRef(), chatJSON))
	switch decision.Kind {
	case eventbus.Drop:
		return nil
	case eventbus.Replace:
		w := codec.NewWriter().Chat(decision.Payload).UByte(position)
		h.client.Enqueue(encodeWithID(h.clientBound.Play.ID(protocol.NameChatMessage), w))
		return nil
	default:
		h.forwardRaw(frame.Payload)
		return nil
	}
}

// handleJoinGame records entity id/gamemode/dimension and, per the
// source's JOIN_GAME handler, immediately echoes a CHANGE_GAME_STATE with
// reason 3 back to the client to clear the gm3-noclip glitch on relogging.
func (h *ServerHalf) handleJoinGame(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	eid := r.Int()
	gamemode := r.UByte()
	var dimension int32
	if h.sess.Version >= protocol.Epoch19_1Pre {
		dimension = r.Int()
	} else {
		dimension = int32(r.Byte())
	}
	_ = r.UByte() // difficulty
	_ = r.UByte() // max players
	_ = r.String()
	if err := r.Err(); err != nil {
		return err
	}

	h.coord.SetClientEntityID(h.sess, eid)
	h.sess.Gamemode = gamemode & 0x7
	h.sess.Dimension = dimension

	h.forwardRaw(frame.Payload)

	nudge := codec.NewWriter().UByte(3).Float(float32(h.sess.Gamemode))
	nudgePayload := encodeWithID(h.clientBound.Play.ID(protocol.NameChangeGameState), nudge)
	h.client.Enqueue(nudgePayload)

	return nil
}

// handleSpawnPosition forwards the packet and emits player.spawned the
// first time it arrives; later respawn-driven occurrences stay silent.
func (h *ServerHalf) handleSpawnPosition(ctx context.Context, frame codec.RawFrame) error {
	h.forwardRaw(frame.Payload)
	if !h.spawned {
		h.spawned = true
		h.bus.Emit(ctx, EventPlayerSpawned, playerPayload(h.client.playerRef()))
	}
	return nil
}

func (h *ServerHalf) handleRespawn(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	dimension := r.Int()
	_ = r.UByte() // difficulty
	gamemode := r.UByte()
	if err := r.Err(); err != nil {
		return err
	}
	h.sess.Dimension = dimension
	h.sess.Gamemode = gamemode & 0x7
	h.forwardRaw(frame.Payload)
	return nil
}

// handlePlayerPosLook updates the session's canonical position and echoes
// the confirmation back to the backend.
func (h *ServerHalf) handlePlayerPosLook(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	x := r.Double()
	y := r.Double()
	z := r.Double()
	yaw := r.Float()
	pitch := r.Float()
	_ = r.UByte() // relative-coordinate flags
	if h.sess.Version >= protocol.Epoch19Start {
		_ = r.VarInt() // teleport id
	}
	if err := r.Err(); err != nil {
		return err
	}

	h.sess.SetPosition(session.Position{X: x, Y: y, Z: z})
	h.forwardRaw(frame.Payload)

	reply := codec.NewWriter().Double(x).Double(y).Double(z).Float(yaw).Float(pitch).Bool(true)
	payload := encodeWithID(h.serverBound.Play.ID(protocol.NamePlayerPosLook), reply)
	return h.enqueueToBackend(payload)
}

func (h *ServerHalf) handleUseBed(ctx context.Context, frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	eid := r.VarInt()
	var x, y, z int32
	if h.sess.Version >= protocol.V1_9 {
		x, y, z = r.PositionV2()
	} else {
		x, y, z = r.Position()
	}
	if err := r.Err(); err != nil {
		return err
	}

	if eid == h.sess.ClientEntityID {
		h.sess.SetBedPosition(session.BlockPos{X: x, Y: y, Z: z})
		h.bus.Emit(ctx, EventPlayerUseBed, playerPayload(h.client.playerRef()))
	}

	h.forwardRaw(frame.Payload)
	return nil
}

// handleSpawnPlayer remaps the offline uuid the backend assigned to
// whichever session owns it, onto that session's authenticated uuid,
// before the packet reaches the external client.
func (h *ServerHalf) handleSpawnPlayer(frame codec.RawFrame) error {
	fixedPoint := h.sess.Version < protocol.Epoch19Start

	r := codec.NewReader(frame.Body())
	eid := r.VarInt()
	offlineID := r.UUID()
	var x, y, z float64
	var fx, fy, fz int32
	if fixedPoint {
		fx, fy, fz = r.Int(), r.Int(), r.Int()
		x, y, z = float64(fx)/32, float64(fy)/32, float64(fz)/32
	} else {
		x, y, z = r.Double(), r.Double(), r.Double()
	}
	yaw := r.Byte()
	pitch := r.Byte()
	rest := r.RestOfPacket() // pre-1.9: current item + metadata; 1.9+: metadata
	if err := r.Err(); err != nil {
		return err
	}

	authID := offlineID
	if target := h.coord.LookupByOfflineUUID(offlineID); target != nil {
		authID = target.AuthenticatedUUID
	}

	h.sess.Entities.Put(&session.Entity{ServerEID: eid, UUID: &authID, X: x, Y: y, Z: z})

	w := codec.NewWriter().VarInt(eid).UUID(authID)
	if fixedPoint {
		w.Int(fx).Int(fy).Int(fz)
	} else {
		w.Double(x).Double(y).Double(z)
	}
	w.Byte(yaw).Byte(pitch).Raw(rest)
	payload := encodeWithID(h.clientBound.Play.ID(protocol.NameSpawnPlayer), w)
	h.client.Enqueue(payload)
	return nil
}

func (h *ServerHalf) handleSpawnObject(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	eid := r.VarInt()
	if h.sess.Version >= protocol.Epoch19Start {
		_ = r.UUID()
	}
	objType := r.Byte()
	x, y, z := h.readEntityCoords(r)
	if err := r.Err(); err != nil {
		return err
	}
	h.sess.Entities.Put(&session.Entity{ServerEID: eid, Kind: int32(objType), IsObject: true, X: x, Y: y, Z: z})
	h.forwardRaw(frame.Payload)
	return nil
}

func (h *ServerHalf) handleSpawnMob(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	eid := r.VarInt()
	if h.sess.Version >= protocol.Epoch19Start {
		_ = r.UUID()
	}
	mobType := r.UByte()
	x, y, z := h.readEntityCoords(r)
	if err := r.Err(); err != nil {
		return err
	}
	h.sess.Entities.Put(&session.Entity{ServerEID: eid, Kind: int32(mobType), X: x, Y: y, Z: z})
	h.forwardRaw(frame.Payload)
	return nil
}

// readEntityCoords reads an entity position in whichever representation the
// session's epoch uses: 32ths-of-a-block fixed-point ints before 1.9,
// doubles from 1.9 on.
func (h *ServerHalf) readEntityCoords(r *codec.Reader) (x, y, z float64) {
	if h.sess.Version < protocol.Epoch19Start {
		return float64(r.Int()) / 32, float64(r.Int()) / 32, float64(r.Int()) / 32
	}
	return r.Double(), r.Double(), r.Double()
}

func (h *ServerHalf) handleEntityRelativeMove(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	eid := r.VarInt()
	var dx, dy, dz float64
	if h.sess.Version < protocol.Epoch19Start {
		dx = float64(r.Byte()) / 32
		dy = float64(r.Byte()) / 32
		dz = float64(r.Byte()) / 32
	} else {
		dx = float64(r.Short()) / 4096
		dy = float64(r.Short()) / 4096
		dz = float64(r.Short()) / 4096
	}
	if err := r.Err(); err != nil {
		return err
	}
	if e := h.sess.Entities.Get(eid); e != nil {
		h.sess.Entities.UpdatePosition(eid, e.X+dx, e.Y+dy, e.Z+dz, e.Yaw, e.Pitch)
	}
	h.forwardRaw(frame.Payload)
	return nil
}

func (h *ServerHalf) handleEntityTeleport(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	eid := r.VarInt()
	x, y, z := h.readEntityCoords(r)
	yaw := r.Byte()
	pitch := r.Byte()
	if err := r.Err(); err != nil {
		return err
	}
	h.sess.Entities.UpdatePosition(eid, x, y, z, float32(yaw), float32(pitch))
	h.forwardRaw(frame.Payload)
	return nil
}

// handleDestroyEntities removes every listed entity id from the session's
// entity table. The count and every id are read as varints, the layout of
// every supported version.
func (h *ServerHalf) handleDestroyEntities(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	count := r.VarInt()
	for i := int32(0); i < count; i++ {
		eid := r.VarInt()
		if err := r.Err(); err != nil {
			return err
		}
		h.sess.Entities.Remove(eid)
	}
	if err := r.Err(); err != nil {
		return err
	}
	h.forwardRaw(frame.Payload)
	return nil
}

// handleAttachEntity emits the mount/unmount event and updates the riding
// field. A non-zero vehicle id is a mount
// and id 0 (or the -1 sentinel) an unmount for every supported version;
// the pre-1.9 layout's trailing leash flag is read and reported verbatim,
// 1.9+ has no such flag and always reports false.
func (h *ServerHalf) handleAttachEntity(ctx context.Context, frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	eid := r.Int()
	vehicleID := r.Int()
	leash := false
	if h.sess.Version < protocol.Epoch19Start {
		leash = r.Bool()
	}
	if err := r.Err(); err != nil {
		return err
	}

	if eid == h.sess.ClientEntityID {
		if vehicleID == 0 || vehicleID == -1 {
			h.sess.SetRidingEntityID(nil)
			h.bus.Emit(ctx, EventPlayerUnmount, playerPayload(h.client.playerRef()))
		} else {
			vid := vehicleID
			h.sess.SetRidingEntityID(&vid)
			h.bus.Emit(ctx, EventPlayerMount, mountPayload(h.client.playerRef(), vehicleID, leash))
		}
	}

	h.forwardRaw(frame.Payload)
	return nil
}

func (h *ServerHalf) handleChangeGameState(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	reason := r.UByte()
	value := r.Float()
	if err := r.Err(); err != nil {
		return err
	}
	if reason == 3 {
		h.sess.Gamemode = uint8(value) & 0x7
	}
	h.forwardRaw(frame.Payload)
	return nil
}

func (h *ServerHalf) handleSetSlot(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	windowID := r.Byte()
	slotIdx := r.Short()
	slot := r.SlotValue()
	if err := r.Err(); err != nil {
		return err
	}
	if windowID == 0 {
		h.sess.SetInventorySlot(slotIdx, session.Slot{
			Present: slot.Present, ItemID: slot.ItemID, Count: slot.Count, Damage: slot.Damage, NBT: slot.NBT,
		})
	}
	h.forwardRaw(frame.Payload)
	return nil
}

// handlePlayerListItem rewrites every roster entry's uuid from the
// backend's offline identity to the corresponding session's authenticated
// identity, so the external client never observes a registered player's
// offline uuid.
func (h *ServerHalf) handlePlayerListItem(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	action := r.VarInt()
	count := r.VarInt()

	w := codec.NewWriter().VarInt(action).VarInt(count)
	for i := int32(0); i < count; i++ {
		offlineID := r.UUID()
		authID := offlineID
		if target := h.coord.LookupByOfflineUUID(offlineID); target != nil {
			authID = target.AuthenticatedUUID
		}
		w.UUID(authID)

		switch action {
		case 0: // add
			name := r.String()
			propCount := r.VarInt()
			w.String(name).VarInt(propCount)
			for p := int32(0); p < propCount; p++ {
				pname := r.String()
				pvalue := r.String()
				signed := r.Bool()
				w.String(pname).String(pvalue).Bool(signed)
				if signed {
					sig := r.String()
					w.String(sig)
				}
			}
			gamemode := r.VarInt()
			latency := r.VarInt()
			hasDisplay := r.Bool()
			w.VarInt(gamemode).VarInt(latency).Bool(hasDisplay)
			if hasDisplay {
				w.Chat(r.Chat())
			}
		case 1: // update gamemode
			gamemode := r.VarInt()
			w.VarInt(gamemode)
		case 2: // update latency
			latency := r.VarInt()
			w.VarInt(latency)
		case 3: // update display name
			hasDisplay := r.Bool()
			w.Bool(hasDisplay)
			if hasDisplay {
				w.Chat(r.Chat())
			}
		case 4: // remove
			// no further fields
		}
	}
	if err := r.Err(); err != nil {
		return err
	}

	payload := encodeWithID(h.clientBound.Play.ID(protocol.NamePlayerListItem), w)
	h.client.Enqueue(payload)
	return nil
}

// handleDisconnect propagates the backend's disconnect reason to the
// external client and tears down the session.
func (h *ServerHalf) handleDisconnect(frame codec.RawFrame) error {
	r := codec.NewReader(frame.Body())
	reasonJSON := r.Chat()
	if err := r.Err(); err != nil {
		reasonJSON = map[string]interface{}{"text": "disconnected"}
	}
	reason := fmt.Sprintf("%v", reasonJSON["text"])
	h.detached.Store(true)
	h.client.Disconnect(reason)
	return fmt.Errorf("proxy: backend disconnected: %s", reason)
}

func encodeWithID(id int32, w *codec.Writer) []byte {
	full := codec.NewWriter().VarInt(id).Raw(w.Bytes())
	return full.Bytes()
}

func recordFor(direction string, id int32, size int) session.PacketRecord {
	return session.PacketRecord{Direction: direction, Name: fmt.Sprintf("0x%02X", id), Size: size}
}
