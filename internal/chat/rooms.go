package chat

// Public community rooms resolve a short key to a fixed, well-known
// passphrase. Anyone running the client derives the same secret and
// group id, which is the entire point: these rooms are public.
type publicRoom struct {
	Name       string
	Passphrase string
}

var publicRooms = map[string]publicRoom{
	"lobby":    {Name: "Rink Lobby", Passphrase: "rinkchat-public-lobby-2025"},
	"schedule": {Name: "Schedule Talk", Passphrase: "rinkchat-public-schedule-2025"},
	"gear":     {Name: "Gear Swap", Passphrase: "rinkchat-public-gear-2025"},
}

// PublicRoomKeys lists the available room keys for the UI.
func PublicRoomKeys() []string {
	return []string{"lobby", "schedule", "gear"}
}
