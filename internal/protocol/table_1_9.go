package protocol

// Play-phase packet ids for protocol 107-110 (1.9 through 1.9.4), reused
// for both V1_9 and V1_9_4 since the two did not renumber relative to each
// other in the range this proxy cares about.

var playClientBound19 = Table{
	NameSpawnObject:        0x00,
	NameSpawnMob:           0x03,
	NameSpawnPlayer:        0x05,
	NameChatMessage:        0x0F,
	NameSetSlot:            0x16,
	NamePluginMessage:      0x18,
	NamePlayDisconnect:     0x1A,
	NameChangeGameState:    0x1E,
	NameKeepAlive:          0x1F,
	NameJoinGame:           0x23,
	NameEntityRelativeMove: 0x26,
	NamePlayerListItem:     0x2D,
	NamePlayerPosLook:      0x2E,
	NameUseBed:             0x2F,
	NameDestroyEntities:    0x30,
	NameRespawn:            0x33,
	NameAttachEntity:       0x3A,
	NameSpawnPosition:      0x43,
	NameTimeUpdate:         0x44,
	NameEntityTeleport:     0x49,
}

var playServerBound19 = Table{
	NameChatMessage:    0x02,
	NamePluginMessage:  0x09,
	NameKeepAlive:      0x0B,
	NamePlayerPosition: 0x0D,
	NamePlayerPosLook:  0x0E,
}
