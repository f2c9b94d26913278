package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"boardsync/core"

	"github.com/sirupsen/logrus"
)

// beaconTimeout is deliberately short: the page is unloading and a slow
// request would never be observed anyway.
const beaconTimeout = 2 * time.Second

// Beacon posts unsaved snapshots to the board service's beacon endpoint
// during teardown. Sends are fire-and-forget: no retries, no result for
// the caller to wait on.
type Beacon struct {
	// Endpoint is the full beacon URL, e.g.
	// "https://boards.example.com/api/v1/beacon".
	Endpoint string

	// Token is the session credential, sent as a bearer header.
	Token string

	// Client defaults to a short-timeout client when nil.
	Client *http.Client
}

type beaconPayload struct {
	ProjectID string        `json:"projectId"`
	Snapshot  core.Snapshot `json:"snapshot"`
}

// Send posts the snapshot in a detached goroutine and returns
// immediately.
func (b *Beacon) Send(projectID string, snapshot core.Snapshot) {
	body, err := json.Marshal(beaconPayload{ProjectID: projectID, Snapshot: snapshot})
	if err != nil {
		logrus.WithField("project_id", projectID).WithError(err).Warn("Beacon payload marshal failed")
		return
	}

	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: beaconTimeout}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if b.Token != "" {
			req.Header.Set("Authorization", "Bearer "+b.Token)
		}

		resp, err := client.Do(req)
		if err != nil {
			logrus.WithField("project_id", projectID).WithError(err).Warn("Beacon send failed")
			return
		}
		resp.Body.Close()
	}()
}
