package collab

import (
	"context"

	"boardsync/core"
)

// MessageType discriminates frames on a board topic.
type MessageType string

const (
	// MessageJoin announces a participant entering the topic.
	MessageJoin MessageType = "join"
	// MessageLeave announces a participant leaving the topic.
	MessageLeave MessageType = "leave"
	// MessageSync carries the full membership roster.
	MessageSync MessageType = "sync"
	// MessageElements carries an element-batch broadcast.
	MessageElements MessageType = "elements"
	// MessageCursor carries a cursor-position broadcast.
	MessageCursor MessageType = "cursor"
)

// Message is the wire frame exchanged over a board topic. Fields are
// populated per type; unused ones are omitted.
type Message struct {
	Type          MessageType        `json:"type"`
	ProjectID     string             `json:"projectId,omitempty"`
	ParticipantID string             `json:"participantId,omitempty"`
	DisplayName   string             `json:"displayName,omitempty"`
	Color         string             `json:"color,omitempty"`
	Elements      []core.Element     `json:"elements,omitempty"`
	X             float64            `json:"x,omitempty"`
	Y             float64            `json:"y,omitempty"`
	Participants  []core.Participant `json:"participants,omitempty"`
	Timestamp     int64              `json:"timestamp,omitempty"`
}

type (
	// Transport carries frames to and from one board topic.
	Transport interface {
		Send(msg Message) error
		// Receive blocks until the next frame or a connection error.
		Receive() (Message, error)
		Close() error
	}

	// Dialer opens a transport to a project's topic. Injected so tests
	// can substitute an in-memory fake.
	Dialer interface {
		Dial(ctx context.Context, projectID string) (Transport, error)
	}
)
