// Package remote implements core.BoardStore against the board service's
// HTTP surface. This is the client an editing session actually uses: it
// never bypasses the platform's access policy, it only translates the
// policy's answers into the store error taxonomy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"boardsync/core"

	"github.com/sirupsen/logrus"
)

type (
	// Store talks to one board service.
	Store struct {
		baseURL    string
		token      string
		httpClient *http.Client
	}

	// boardPayload is the service's record shape; the snapshot stays raw
	// until the tolerance check in core.ParseSnapshot has seen it.
	boardPayload struct {
		ProjectID string          `json:"projectId"`
		Snapshot  json.RawMessage `json:"snapshot"`
		CreatedAt time.Time       `json:"createdAt"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}

	saveRequest struct {
		Snapshot core.Snapshot `json:"snapshot"`
	}
)

// NewStore creates a remote store client. The token is the externally
// issued session credential; the store sends it, it never mints it.
func NewStore(baseURL, token string) *Store {
	return &Store{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *Store) boardURL(projectID string) string {
	return fmt.Sprintf("%s/api/v1/projects/%s/board", s.baseURL, url.PathEscape(projectID))
}

// GetOrCreate fetches the board record, creating a blank one server-side
// on first access.
func (s *Store) GetOrCreate(ctx context.Context, projectID string) (*core.BoardRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.boardURL(projectID), nil)
	if err != nil {
		return nil, err
	}
	return s.do(req, projectID)
}

// Save upserts the snapshot for a project.
func (s *Store) Save(ctx context.Context, projectID string, snapshot core.Snapshot) (*core.BoardRecord, error) {
	body, err := json.Marshal(saveRequest{Snapshot: snapshot})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.boardURL(projectID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, projectID)
}

func (s *Store) do(req *http.Request, projectID string) (*core.BoardRecord, error) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: project %s", core.ErrAccessDenied, projectID)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: project %s", core.ErrNotFound, projectID)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", core.ErrStoreUnavailable, resp.StatusCode)
	}

	var payload boardPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", core.ErrStoreUnavailable, err)
	}

	snapshot, recovered := core.ParseSnapshot(payload.Snapshot)
	if recovered {
		logrus.WithField("project_id", projectID).Warn("Stored snapshot has an unrecognized format, loading blank board")
	}

	return &core.BoardRecord{
		ProjectID: payload.ProjectID,
		Snapshot:  snapshot,
		CreatedAt: payload.CreatedAt,
		UpdatedAt: payload.UpdatedAt,
		Recovered: recovered,
	}, nil
}
