// Package identity derives the two uuids every Session tracks: the
// authenticated uuid returned by the session service, and the offline uuid
// the local (offline-mode) server assigns from the username alone.
package identity

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// OfflineUUID deterministically derives the uuid an offline-mode server
// would assign a given username: an MD5-based version-3 uuid over
// "OfflinePlayer:<username>", matching the algorithm the vanilla server
// itself uses, since the local (offline-mode) server hands back exactly
// this uuid in its own LoginSuccess.
func OfflineUUID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = (sum[6] & 0x0f) | 0x30 // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80 // RFC 4122 variant
	id, _ := uuid.FromBytes(sum[:])
	return id
}

// ParseAuthenticated parses the dash-less uuid string the session service
// returns into a uuid.UUID.
func ParseAuthenticated(noDashes string) (uuid.UUID, error) {
	return uuid.Parse(insertDashes(noDashes))
}

// StripDashes renders id without dashes, the form the client half writes
// into LoginSuccess.
func StripDashes(id uuid.UUID) string {
	s := id.String()
	out := make([]byte, 0, 32)
	for _, r := range s {
		if r != '-' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

func insertDashes(s string) string {
	if len(s) != 32 {
		return s
	}
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}
