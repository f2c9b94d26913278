// Package websocket is the serving side of the board topics: it upgrades
// connections at /ws/projects/{project_id} and relays collab frames
// between the members of each project room.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"boardsync/collab"
	"boardsync/core"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Element batches for a busy board can run large.
	maxMessageSize = 1 << 20

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect cross-origin from the editor host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan collab.Message
	projectID     string
	participantID string
	displayName   string
	color         string
	lastActive    time.Time
	cursor        *core.CursorPos
}

// Hub tracks one room per project and relays frames between its members.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*client]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]bool)}
}

// RoomSize reports the member count of a project room.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[projectID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.projectID]
	if !ok {
		room = make(map[*client]bool)
		h.rooms[c.projectID] = room
	}
	room[c] = true
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"project_id":     c.projectID,
		"participant_id": c.participantID,
	}).Info("Participant joined board topic")

	h.relay(c, collab.Message{
		Type:          collab.MessageJoin,
		ProjectID:     c.projectID,
		ParticipantID: c.participantID,
		DisplayName:   c.displayName,
		Color:         c.color,
		Timestamp:     time.Now().UnixMilli(),
	})
	h.broadcastRoster(c.projectID)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.projectID]
	if ok {
		if _, member := room[c]; member {
			delete(room, c)
			close(c.send)
		}
		if len(room) == 0 {
			delete(h.rooms, c.projectID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	logrus.WithFields(logrus.Fields{
		"project_id":     c.projectID,
		"participant_id": c.participantID,
	}).Info("Participant left board topic")

	h.relay(c, collab.Message{
		Type:          collab.MessageLeave,
		ProjectID:     c.projectID,
		ParticipantID: c.participantID,
		Timestamp:     time.Now().UnixMilli(),
	})
	h.broadcastRoster(c.projectID)
}

// relay sends a frame to every room member except the sender.
func (h *Hub) relay(sender *client, msg collab.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for member := range h.rooms[sender.projectID] {
		if member == sender {
			continue
		}
		select {
		case member.send <- msg:
		default:
			// Slow consumer; drop the frame rather than block the room.
			logrus.WithFields(logrus.Fields{
				"project_id":     member.projectID,
				"participant_id": member.participantID,
			}).Warn("Dropping frame for slow participant")
		}
	}
}

// broadcastRoster sends the full membership to every room member.
func (h *Hub) broadcastRoster(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[projectID]
	participants := make([]core.Participant, 0, len(room))
	for member := range room {
		participants = append(participants, core.Participant{
			ID:           member.participantID,
			DisplayName:  member.displayName,
			Color:        member.color,
			LastActiveAt: member.lastActive,
			Cursor:       member.cursor,
		})
	}

	msg := collab.Message{
		Type:         collab.MessageSync,
		ProjectID:    projectID,
		Participants: participants,
		Timestamp:    time.Now().UnixMilli(),
	}
	for member := range room {
		select {
		case member.send <- msg:
		default:
		}
	}
}

// ServeWS upgrades GET /ws/projects/{project_id} and runs the client's
// pumps until the connection drops.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "project_id")
		participantID := r.URL.Query().Get("participant")
		displayName := r.URL.Query().Get("name")
		if participantID == "" {
			http.Error(w, "participant is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithField("error", err).Error("Websocket upgrade failed")
			return
		}

		c := &client{
			hub:           hub,
			conn:          conn,
			send:          make(chan collab.Message, sendBuffer),
			projectID:     projectID,
			participantID: participantID,
			displayName:   displayName,
			color:         collab.ColorFor(participantID),
			lastActive:    time.Now(),
		}
		hub.register(c)

		go c.writePump()
		go c.readPump()
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg collab.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"project_id":     c.projectID,
					"participant_id": c.participantID,
					"error":          err,
				}).Warn("Websocket read failed")
			}
			return
		}

		// The sender identity comes from the connection, never from
		// the frame.
		msg.ProjectID = c.projectID
		msg.ParticipantID = c.participantID
		msg.Timestamp = time.Now().UnixMilli()

		switch msg.Type {
		case collab.MessageElements:
			c.touch(nil)
			c.hub.relay(c, msg)
		case collab.MessageCursor:
			c.touch(&core.CursorPos{X: msg.X, Y: msg.Y})
			c.hub.relay(c, msg)
		case collab.MessageLeave:
			return
		case collab.MessageJoin:
			// Membership is established by the upgrade; a join frame
			// just refreshes activity.
			c.touch(nil)
		default:
			logrus.WithFields(logrus.Fields{
				"project_id": c.projectID,
				"type":       msg.Type,
			}).Debug("Ignoring unknown frame type")
		}
	}
}

func (c *client) touch(cursor *core.CursorPos) {
	c.hub.mu.Lock()
	c.lastActive = time.Now()
	if cursor != nil {
		c.cursor = cursor
	}
	c.hub.mu.Unlock()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
