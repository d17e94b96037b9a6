package identity

import (
	"fmt"
	"math/rand/v2"
)

var adjectives = []string{
	"Swift", "Frosty", "Brave", "Quiet", "Lucky", "Nimble", "Sunny",
	"Chilly", "Merry", "Steady", "Keen", "Breezy", "Polar", "Glacial",
	"Rapid", "Gentle", "Bold", "Crisp", "Silver", "Amber",
}

var nouns = []string{
	"Fox", "Otter", "Falcon", "Badger", "Heron", "Lynx", "Marten",
	"Puffin", "Seal", "Moose", "Raven", "Beaver", "Hare", "Wolf",
	"Osprey", "Grouse", "Stoat", "Crane", "Loon", "Elk",
}

// RandomDisplayName builds names like "SwiftFox41".
func RandomDisplayName() string {
	return fmt.Sprintf("%s%s%02d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(100))
}
