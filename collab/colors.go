package collab

import "hash/fnv"

// palette is the fixed set of cursor colors. Small on purpose: stability
// across reconnects matters more than uniqueness, and collisions between
// participants are accepted.
var palette = []string{
	"#e03131", // red
	"#1971c2", // blue
	"#2f9e44", // green
	"#f08c00", // orange
	"#9c36b5", // grape
	"#0c8599", // cyan
	"#e8590c", // burnt orange
	"#6741d9", // violet
	"#c2255c", // pink
	"#3b5bdb", // indigo
}

// ColorFor maps a participant identity onto the palette. Deterministic,
// so the same participant keeps the same color across reconnects.
func ColorFor(participantID string) string {
	h := fnv.New32a()
	h.Write([]byte(participantID))
	return palette[int(h.Sum32())%len(palette)]
}
