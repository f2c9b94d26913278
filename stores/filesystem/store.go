package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"boardsync/core"

	"github.com/sirupsen/logrus"
)

// persistedBoard is the on-disk envelope, one JSON file per project.
type persistedBoard struct {
	ProjectID string          `json:"projectId"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type fileStore struct {
	basePath string
}

// NewStore creates a filesystem-based board store rooted at basePath.
func NewStore(basePath string) *fileStore {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		logrus.WithError(err).Fatal("failed to create storage directory")
	}
	return &fileStore{basePath: basePath}
}

func (s *fileStore) boardPath(projectID string) (string, error) {
	// A project id must be a simple name, not a path. Base() leaves
	// "." and ".." untouched, so they need their own check.
	if projectID == "" || projectID == "." || projectID == ".." ||
		filepath.Base(projectID) != projectID {
		return "", fmt.Errorf("invalid project id %q", projectID)
	}
	return filepath.Join(s.basePath, projectID+".json"), nil
}

func (s *fileStore) GetOrCreate(ctx context.Context, projectID string) (*core.BoardRecord, error) {
	path, err := s.boardPath(projectID)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		now := time.Now().UTC()
		record := &core.BoardRecord{
			ProjectID: projectID,
			Snapshot:  core.Snapshot{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.write(path, record); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
		}
		logrus.WithField("project_id", projectID).Info("Board created")
		return record, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	return decodeBoard(projectID, raw)
}

func (s *fileStore) Save(ctx context.Context, projectID string, snapshot core.Snapshot) (*core.BoardRecord, error) {
	path, err := s.boardPath(projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &core.BoardRecord{
		ProjectID: projectID,
		Snapshot:  snapshot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Preserve CreatedAt on update.
	if existing, err := s.GetOrCreate(ctx, projectID); err == nil {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.write(path, record); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return record, nil
}

// write lands the file via a temp-and-rename so a crash mid-write never
// leaves a truncated board behind.
func (s *fileStore) write(path string, record *core.BoardRecord) error {
	snapshot, err := json.Marshal(record.Snapshot)
	if err != nil {
		return err
	}
	data, err := json.Marshal(persistedBoard{
		ProjectID: record.ProjectID,
		Snapshot:  snapshot,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	})
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func decodeBoard(projectID string, raw []byte) (*core.BoardRecord, error) {
	var stored persistedBoard
	if err := json.Unmarshal(raw, &stored); err != nil {
		// The whole file is unreadable; treat like a legacy payload.
		logrus.WithField("project_id", projectID).Warn("Stored board file has an unrecognized format, loading blank board")
		return &core.BoardRecord{ProjectID: projectID, Recovered: true}, nil
	}

	snapshot, recovered := core.ParseSnapshot(stored.Snapshot)
	if recovered {
		logrus.WithField("project_id", projectID).Warn("Stored snapshot has an unrecognized format, loading blank board")
	}

	return &core.BoardRecord{
		ProjectID: projectID,
		Snapshot:  snapshot,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
		Recovered: recovered,
	}, nil
}
