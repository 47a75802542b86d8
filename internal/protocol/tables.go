package protocol

import (
	"github.com/blockproxy/blockproxy/internal/netlog"
)

// Table maps symbolic packet names to the numeric id a specific protocol
// version, bound direction, and connection phase assign them. A name absent
// from the map does not exist in that version/direction/phase.
type Table map[Name]int32

// id looks up name, returning ok=false if the packet does not exist at
// this version — sending/receiving an absent symbol is a programming
// error and callers should treat ok=false as exactly that.
func (t Table) id(name Name) (int32, bool) {
	v, ok := t[name]
	return v, ok
}

// ID looks up name and panics if it does not exist in this table. Use only
// for packets the calling code has already gated on version: an invalid
// symbol/version pair here is a programming error, not a runtime condition.
func (t Table) ID(name Name) int32 {
	v, ok := t.id(name)
	if !ok {
		panic("protocol: packet " + string(name) + " does not exist in this table")
	}
	return v
}

// NameOf reverses the lookup: given a numeric id, return the symbolic name,
// or "" if unrecognized (in which case the packet is passed through
// opaquely — the registry does not need to know every packet, only the
// ones the proxy actually inspects or rewrites). Ids are only unique
// within one phase, which is why each Tables value carries one Table per
// phase rather than a single flat map.
func (t Table) NameOf(id int32) Name {
	for name, v := range t {
		if v == id {
			return name
		}
	}
	return ""
}

// Tables is one bound direction's full registry: one Table per connection
// phase, since ids are reused freely across phases (0x00 is HANDSHAKE,
// REQUEST, LOGIN_START, and KEEP_ALIVE all at once in 1.8 server-bound).
// Dispatch is always by (state, id), per the connection actor's contract.
type Tables struct {
	Handshake Table
	Status    Table
	Login     Table
	Play      Table
}

// The pre-play phases did not change across the supported versions, so the
// same tables serve every version; only the Play tables fan out.
var (
	handshakeServerBound = Table{
		NameHandshake: 0x00,
	}
	statusClientBound = Table{
		NameStatusResponse: 0x00,
		NameStatusPong:     0x01,
	}
	statusServerBound = Table{
		NameStatusRequest: 0x00,
		NameStatusPing:    0x01,
	}
	loginClientBound = Table{
		NameLoginDisconnect:   0x00,
		NameEncryptionRequest: 0x01,
		NameLoginSuccess:      0x02,
		NameSetCompression:    0x03,
	}
	loginServerBound = Table{
		NameLoginStart:         0x00,
		NameEncryptionResponse: 0x01,
	}
)

// versionTables holds the client-bound/server-bound pair for one protocol
// version.
type versionTables struct {
	clientBound Tables
	serverBound Tables
}

func makeVersion(playClientBound, playServerBound Table) versionTables {
	return versionTables{
		clientBound: Tables{
			Status: statusClientBound,
			Login:  loginClientBound,
			Play:   playClientBound,
		},
		serverBound: Tables{
			Handshake: handshakeServerBound,
			Status:    statusServerBound,
			Login:     loginServerBound,
			Play:      playServerBound,
		},
	}
}

// tablesByVersion is keyed by the exact supported versions; Select maps an
// arbitrary negotiated version onto one of these via half-open ranges.
var tablesByVersion = map[Version]versionTables{
	V1_8:   makeVersion(playClientBound18, playServerBound18),
	V1_9:   makeVersion(playClientBound19, playServerBound19),
	V1_9_4: makeVersion(playClientBound19, playServerBound19),
}

// Select resolves a negotiated protocol version to its client-bound and
// server-bound registries using half-open ranges anchored at the three
// supported versions, falling back to the lowest supported version (V1_8)
// with a logged warning.
func Select(version Version) (clientBound, serverBound Tables) {
	switch {
	case version >= V1_9_4:
		t := tablesByVersion[V1_9_4]
		return t.clientBound, t.serverBound
	case version >= V1_9:
		t := tablesByVersion[V1_9]
		return t.clientBound, t.serverBound
	case version >= V1_8:
		t := tablesByVersion[V1_8]
		return t.clientBound, t.serverBound
	default:
		logger := netlog.For("protocol")
		logger.Warn().
			Int32("version", int32(version)).
			Msg("unsupported protocol version, falling back to 1.8 tables")
		t := tablesByVersion[V1_8]
		return t.clientBound, t.serverBound
	}
}

// IsSupported reports whether version falls within the three adjacent
// revisions this proxy understands.
func IsSupported(version Version) bool {
	return version == V1_8 || version == V1_9 || version == V1_9_4
}
