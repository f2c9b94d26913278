package core

import "time"

type (
	// CursorPos is a participant's last known pointer position in canvas
	// coordinates.
	CursorPos struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Participant is one connected viewer on a board's channel. Entries
	// are ephemeral: created on join, refreshed on every broadcast from
	// that participant, pruned after an inactivity threshold.
	Participant struct {
		ID           string     `json:"participantId"`
		DisplayName  string     `json:"displayName"`
		Color        string     `json:"color"`
		LastActiveAt time.Time  `json:"lastActiveAt"`
		Cursor       *CursorPos `json:"cursor,omitempty"`
	}
)
