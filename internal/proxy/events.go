package proxy

// Event names the pipeline publishes. server.consoleMessage
// is listed here for completeness (it originates from the out-of-scope
// console scraper) but nothing in this package publishes it.
const (
	EventPlayerLogin          = "player.login"
	EventPlayerSpawned        = "player.spawned"
	EventPlayerLogout         = "player.logout"
	EventPlayerMove           = "player.move"
	EventPlayerChatbox        = "player.chatbox"
	EventPlayerRunCommand     = "player.runCommand"
	EventPlayerUseBed         = "player.usebed"
	EventPlayerMount          = "player.mount"
	EventPlayerUnmount        = "player.unmount"
	EventServerConsoleMessage = "server.consoleMessage"
	EventPlayerJoin           = "player.join"
	EventPlayerLeave          = "player.leave"
)

// PlayerRef is the payload shape plugins receive to identify the player a
// pipeline event concerns.
type PlayerRef struct {
	Username          string `json:"username"`
	AuthenticatedUUID string `json:"uuid"`
}

func playerPayload(ref PlayerRef) map[string]interface{} {
	return map[string]interface{}{"player": ref}
}

func chatboxPayload(ref PlayerRef, json map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"player": ref, "json": json}
}

func runCommandPayload(ref PlayerRef, command string, args []string) map[string]interface{} {
	return map[string]interface{}{"player": ref, "command": command, "args": args}
}

func mountPayload(ref PlayerRef, vehicleID int32, leash bool) map[string]interface{} {
	return map[string]interface{}{"player": ref, "vehicle_id": vehicleID, "leash": leash}
}
