package collab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
)

// WebsocketDialer opens gorilla/websocket transports against the board
// service's per-project topics.
type WebsocketDialer struct {
	// BaseURL of the board service, e.g. "ws://localhost:3002".
	BaseURL string

	// Token is the externally issued session credential; sent as a
	// bearer header on the upgrade request.
	Token string

	ParticipantID string
	DisplayName   string
}

// Dial connects to the project's topic endpoint.
func (d *WebsocketDialer) Dial(ctx context.Context, projectID string) (Transport, error) {
	endpoint := fmt.Sprintf("%s/ws/projects/%s?participant=%s&name=%s",
		d.BaseURL,
		url.PathEscape(projectID),
		url.QueryEscape(d.ParticipantID),
		url.QueryEscape(d.DisplayName),
	)

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts a gorilla connection to the Transport interface.
// gorilla allows one concurrent writer, hence the write mutex.
type wsTransport struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (t *wsTransport) Send(msg Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Receive() (Message, error) {
	var msg Message
	if err := t.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	return msg, nil
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return t.conn.Close()
}
