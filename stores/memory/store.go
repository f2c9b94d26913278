package memory

import (
	"context"
	"sync"
	"time"

	"boardsync/core"

	"github.com/sirupsen/logrus"
)

// memStore keeps board records in process memory. Each instance owns its
// own map so tests stay isolated.
type memStore struct {
	mu     sync.RWMutex
	boards map[string]*core.BoardRecord
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		boards: make(map[string]*core.BoardRecord),
	}
}

// GetOrCreate returns the board for a project, creating a blank one on
// first access.
func (s *memStore) GetOrCreate(ctx context.Context, projectID string) (*core.BoardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.boards[projectID]; ok {
		copied := *record
		return &copied, nil
	}

	now := time.Now()
	record := &core.BoardRecord{
		ProjectID: projectID,
		Snapshot:  core.Snapshot{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.boards[projectID] = record
	logrus.WithField("project_id", projectID).Info("Board created")

	copied := *record
	return &copied, nil
}

// Save upserts the snapshot for a project.
func (s *memStore) Save(ctx context.Context, projectID string, snapshot core.Snapshot) (*core.BoardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	record, ok := s.boards[projectID]
	if !ok {
		record = &core.BoardRecord{
			ProjectID: projectID,
			CreatedAt: now,
		}
		s.boards[projectID] = record
	}
	record.Snapshot = snapshot
	record.UpdatedAt = now

	logrus.WithFields(logrus.Fields{
		"project_id": projectID,
		"elements":   len(snapshot.Elements),
	}).Debug("Board saved")

	copied := *record
	return &copied, nil
}
