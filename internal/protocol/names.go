package protocol

// Name is a symbolic packet identity, stable across protocol versions even
// when the numeric id a version assigns to it changes (or the packet does
// not exist at all in that version). The set of symbolic names is fixed
// across versions; a name absent from a version's table means the packet
// does not exist in that version.
type Name string

// Handshake / Status / Login packet names.
const (
	NameHandshake          Name = "HANDSHAKE"
	NameStatusRequest      Name = "REQUEST"
	NameStatusResponse     Name = "RESPONSE"
	NameStatusPing         Name = "PING"
	NameStatusPong         Name = "PONG"
	NameLoginStart         Name = "LOGIN_START"
	NameEncryptionRequest  Name = "ENCRYPTION_REQUEST"
	NameEncryptionResponse Name = "ENCRYPTION_RESPONSE"
	NameLoginSuccess       Name = "LOGIN_SUCCESS"
	NameSetCompression     Name = "SET_COMPRESSION"
	NameLoginDisconnect    Name = "LOGIN_DISCONNECT"
)

// Play packet names the proxy inspects; everything else passes through
// opaquely.
const (
	NameKeepAlive          Name = "KEEP_ALIVE"
	NameChatMessage        Name = "CHAT_MESSAGE"
	NameJoinGame           Name = "JOIN_GAME"
	NameTimeUpdate         Name = "TIME_UPDATE"
	NameSpawnPosition      Name = "SPAWN_POSITION"
	NameRespawn            Name = "RESPAWN"
	NamePlayerPosLook      Name = "PLAYER_POSLOOK"
	NamePlayerPosition     Name = "PLAYER_POSITION"
	NameUseBed             Name = "USE_BED"
	NameSpawnPlayer        Name = "SPAWN_PLAYER"
	NameSpawnObject        Name = "SPAWN_OBJECT"
	NameSpawnMob           Name = "SPAWN_MOB"
	NameEntityRelativeMove Name = "ENTITY_RELATIVE_MOVE"
	NameEntityTeleport     Name = "ENTITY_TELEPORT"
	NameAttachEntity       Name = "ATTACH_ENTITY"
	NameChangeGameState    Name = "CHANGE_GAME_STATE"
	NameSetSlot            Name = "SET_SLOT"
	NamePlayerListItem     Name = "PLAYER_LIST_ITEM"
	NamePlayDisconnect     Name = "DISCONNECT"
	NamePluginMessage      Name = "PLUGIN_MESSAGE"
	NameDestroyEntities    Name = "DESTROY_ENTITIES"
)
