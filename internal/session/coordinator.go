package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/blockproxy/blockproxy/internal/netlog"
)

var log = netlog.For("session")

// ErrCrossServerDisabled is returned by Rebind when the deployment has
// cross-server switching turned off (proxy.cross-server = false).
var ErrCrossServerDisabled = fmt.Errorf("session: cross-server rebind is disabled")

// Backend identifies one upstream Minecraft server a session can be bound
// to. The proxy package supplies the concrete dialer; Coordinator only
// needs the address for bookkeeping and logging.
type Backend struct {
	Name string
	Addr string
}

// Half is the minimal surface the Coordinator needs from a connection
// actor to ask it to tear down or reconnect. internal/proxy's connection
// actor implements this.
type Half interface {
	// Disconnect closes the half, sending reason to the client if this is
	// the client-facing half, and detaching the backend half otherwise.
	Disconnect(reason string)
}

// Rebinder is implemented by the proxy package's client half: the only
// half a cross-server rebind can target, since only the client-facing
// connection survives the switch.
type Rebinder interface {
	Half
	RebindTo(backend Backend) error
}

// Coordinator owns the live Session set and mediates cross-server moves
// and roster lookups. One Coordinator exists per proxy
// instance.
type Coordinator struct {
	mu            sync.RWMutex
	byOfflineUUID map[uuid.UUID]*Session
	byAuthUUID    map[uuid.UUID]*Session
	byServerEID   map[int32]*Session // keyed by this session's own client eid, for quick self-lookup
	clientHalves  map[string]Rebinder
	crossServerOK bool
}

// NewCoordinator returns an empty Coordinator. crossServerEnabled mirrors
// proxy.cross-server from config; when false, Rebind always fails.
func NewCoordinator(crossServerEnabled bool) *Coordinator {
	return &Coordinator{
		byOfflineUUID: make(map[uuid.UUID]*Session),
		byAuthUUID:    make(map[uuid.UUID]*Session),
		byServerEID:   make(map[int32]*Session),
		clientHalves:  make(map[string]Rebinder),
		crossServerOK: crossServerEnabled,
	}
}

// Register adds a newly-authenticated session to the roster and remembers
// the Rebinder (client half) that fronts it, so a later cross-server
// operation can reach back into the connection actor.
func (c *Coordinator) Register(s *Session, half Rebinder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.coordinator = c
	c.byOfflineUUID[s.OfflineUUID] = s
	c.byAuthUUID[s.AuthenticatedUUID] = s
	c.clientHalves[s.ID] = half
	log.Debug().Str("session", s.ID).Str("username", s.Username).Msg("session registered")
}

// SetClientEntityID records this session's own client-visible entity id
// and indexes it, so LookupByServerEID can resolve self-references (e.g. a
// PLAYER_LIST_ITEM entry for the player's own uuid).
func (c *Coordinator) SetClientEntityID(s *Session, eid int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.ClientEntityID = eid
	c.byServerEID[eid] = s
}

// LookupByOfflineUUID finds the session bound to an offline-derived uuid,
// used by the server half to resolve SPAWN_PLAYER/PLAYER_LIST_ITEM entries
// for any registered player's offline-mode identity back to that player's
// authenticated identity before forwarding to the client.
func (c *Coordinator) LookupByOfflineUUID(id uuid.UUID) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byOfflineUUID[id]
}

// LookupByAuthUUID finds the session by its authenticated (real) uuid.
func (c *Coordinator) LookupByAuthUUID(id uuid.UUID) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byAuthUUID[id]
}

// LookupByServerEID finds the session whose own client entity id equals
// eid — used when a backend packet self-references the connecting player
// by entity id rather than uuid.
func (c *Coordinator) LookupByServerEID(eid int32) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byServerEID[eid]
}

// OnClose removes a session from every index once either half reports it
// closed. Idempotent: a session already removed is a no-op.
func (c *Coordinator) OnClose(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byOfflineUUID, s.OfflineUUID)
	delete(c.byAuthUUID, s.AuthenticatedUUID)
	delete(c.byServerEID, s.ClientEntityID)
	delete(c.clientHalves, s.ID)
	s.markClosed()
	log.Debug().Str("session", s.ID).Msg("session closed")
}

// Rebind switches s onto a different backend server without dropping the
// client connection. It resets session state that does
// not survive the switch and asks the registered client half to perform
// the reconnect. Returns ErrCrossServerDisabled if the deployment has
// cross-server moves turned off.
func (c *Coordinator) Rebind(s *Session, backend Backend) error {
	if !c.crossServerOK {
		return ErrCrossServerDisabled
	}
	c.mu.RLock()
	half, ok := c.clientHalves[s.ID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session: no client half registered for %s", s.ID)
	}

	s.ResetForRebind()
	log.Info().Str("session", s.ID).Str("backend", backend.Name).Msg("rebinding session to new backend")
	return half.RebindTo(backend)
}

// Len reports the number of currently registered sessions.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clientHalves)
}
