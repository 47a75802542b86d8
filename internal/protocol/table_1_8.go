package protocol

// Play-phase packet ids for protocol 47 (1.8.x). The handshake, status,
// and login phases live in tables.go since they did not change across the
// supported versions.

var playClientBound18 = Table{
	NameKeepAlive:          0x00,
	NameJoinGame:           0x01,
	NameChatMessage:        0x02,
	NameTimeUpdate:         0x03,
	NameSpawnPosition:      0x05,
	NameRespawn:            0x07,
	NamePlayerPosLook:      0x08,
	NameUseBed:             0x0A,
	NameSpawnPlayer:        0x0C,
	NameSpawnObject:        0x0E,
	NameSpawnMob:           0x0F,
	NameDestroyEntities:    0x13,
	NameEntityRelativeMove: 0x15,
	NameEntityTeleport:     0x18,
	NameAttachEntity:       0x1B,
	NameChangeGameState:    0x2B,
	NameSetSlot:            0x2F,
	NamePlayerListItem:     0x38,
	NamePluginMessage:      0x3F,
	NamePlayDisconnect:     0x40,
}

var playServerBound18 = Table{
	NameKeepAlive:      0x00,
	NameChatMessage:    0x01,
	NamePlayerPosition: 0x04,
	NamePlayerPosLook:  0x06,
	NamePluginMessage:  0x17,
}
